// Package subscription owns the notification subscriptions of a session.
//
// Each notification kind moves through Uncreated → Active → Cancelled.
// Start subscribes every configured kind. Stop unsubscribes the active ones
// and waits for handlers already running. A kind that is not Active never
// starts a handler, even for a notification that was already in flight when
// it was cancelled.
//
// Each notification is handled in its own goroutine:
//   - market_created: collect and upsert the new market
//   - price_changed: re-collect the market and append the notified trade
//   - fee_changed: patch fee and volume fields of the stored market
//
// Handler failures are reported to the observer and do not affect other
// subscriptions.
package subscription
