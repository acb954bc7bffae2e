// Package reconcile ties the scanner and the subscription manager into one
// watch session over a single store.
//
// Watch runs an optional baseline scan, then subscribes to ledger
// notifications, then starts optional interval scans. A failed baseline scan
// aborts Watch before anything is subscribed. Unwatch releases everything in
// reverse: interval scans, then subscriptions (waiting for running
// handlers), then the store. Every step is reported in a Teardown, and a
// second Unwatch finds nothing left to release.
//
// Results are delivered to an event.Observer.
package reconcile
