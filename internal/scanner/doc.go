// Package scanner implements the full re-scan of the ledger.
//
// A pass lists every branch, concatenates their market ids (oldest first),
// keeps the newest Limit ids when a limit is set, then collects and upserts
// each market with bounded parallelism. Markets the ledger reports as not
// found are skipped. The first other failure cancels the rest of the pass
// and is returned instead of a count.
//
// A Scanner never runs two passes at once. Loop repeats passes on an
// interval and stops after the first failed pass.
package scanner
