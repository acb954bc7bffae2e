// Package metrics exposes replica state as Prometheus metrics.
//
// Key metrics:
//   - Observer events by result code
//   - Writer upserts, patches, trades and errors
//   - Scan passes, failures and the last pass count and duration
//   - Notifications dispatched, dropped and failed, and active subscriptions
//   - Ledger stream connection state
//
// Counters owned by other packages are read through CounterFunc and
// GaugeFunc collectors at scrape time, so nothing is double counted.
package metrics
