// Package storage is a small bucketed key/value store.
//
// A DB holds named buckets of opaque byte keys and values. Engines:
//   - "memory": process-local maps, lost on exit
//   - "file": dependency-free snapshot + JSON Lines journal
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//
// Typed layers JSON-encoded values over a Bucket.
package storage
