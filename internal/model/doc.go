// Package model defines the market documents replicated from the ledger.
//
// Conventions:
//   - Fees, prices, shares and volume: decimal strings (never float64)
//   - Timestamps: int64 seconds since Unix epoch, as reported by the ledger
//   - Block numbers: uint64
//   - IDs: opaque strings assigned by the ledger; trade IDs are UUID strings
package model
