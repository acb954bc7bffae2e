// Package writer is the single write path into the store.
//
// Every mutation of a market goes through a Writer:
//   - Upsert, UpsertCollected: full document plus trade history from a
//     collection
//   - UpsertFields: sparse fee/volume patch from a notification
//
// Writes for one market id are serialized with a per-id lock, so a scan
// racing a notification for the same market cannot lose either update.
// Different ids proceed in parallel with no ordering between them. A
// snapshot collected before a field patch landed keeps the patched fields.
//
// A document, its branch index entry and its new trades (price history and
// account index) are written in one store batch. Writing an identical
// document again is a no-op.
package writer
