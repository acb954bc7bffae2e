// Package store provides the persistent key-value store behind the replica.
//
// Two backends implement Store:
//   - LevelDB: embedded, on-disk (or in-memory for tests)
//   - PostgreSQL: a single market_kv table behind a pgx connection pool
//
// Keys are ordered byte-wise, so ScanPrefix returns entries in key order. The
// writer relies on this to keep price history sorted by block number.
package store
