// Package collector assembles the denormalized market document from the
// ledger.
//
// A collection reads market info first, then events and trades in parallel.
// Markets the ledger does not know, or that have no events yet, yield
// ErrNotFound. That is a normal outcome for partially initialised ledger
// records and callers skip it. Ledger errors are returned as-is and are
// never retried here.
package collector
