// Package ledger is the client for the remote market ledger.
//
// The replica consumes the ledger through small interfaces:
//   - Lister: enumerate branches and the market ids in each (oldest first)
//   - Reader: fetch market info, events and trades by id
//   - Subscriber: register handlers for change notifications
//
// Client implements Lister and Reader over the REST API. Stream implements
// Subscriber over a single WebSocket connection. Remote combines both.
//
// Notification channels: market_created, price_changed, fee_changed
package ledger
