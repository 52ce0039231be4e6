// Package kv implements an embeddable, ordered key-value store over a
// SQLite or bbolt-backed table of hashed keys.
//
// Keys are tuples of typed parts ([]byte, string, int64, float64, bool)
// encoded into a lexicographically sortable byte string (see key.go),
// so that range scans over composite keys behave the way a nested
// directory of namespaces would. Every write is stamped with a
// monotone, microsecond-resolution versionstamp (versionstamp.go)
// suitable for optimistic concurrency checks and change ordering.
//
// Values pass through a pluggable Codec (codec.go): MessagePack by
// default, or JSON for callers who want inspectable storage at some
// cost in binary compactness. Both codecs treat the U64 sentinel type
// as a self-describing counter, which the atomic transaction engine
// (atomic.go) uses for wrapping sum/min/max mutations.
//
// Range scans (selector.go, scan.go) plan a selector down to a
// half-open byte range and drive it through paginated batches, with a
// resumable cursor carried across calls. Everything above the ordered
// store adapter (store.go, store_sqlite.go, store_bolt.go) is storage
// agnostic; either backend can serve an Engine (db.go).
package kv
