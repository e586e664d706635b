// Package database stores tuning records for workloads, keyed by content hash.
//
// A Workload pairs a module with its structural hash; every identity check
// in this package compares hashes, never module structure. A TuningRecord
// is a replayable schedule trace for one workload together with optional
// measurements, the target they were taken on and argument metadata.
//
// # Portable Forms
//
// Both entities round-trip through ir values:
//
//	Workload:     [hash_hex, base64(canonical module JSON)]
//	TuningRecord: [trace, run_secs|null, target|null, args_info|null]
//
// Decoding a workload recomputes the hash from the decoded module and
// fails with a CORRUPTION DecodeError on mismatch, so a damaged store is
// caught at load time instead of poisoning lookups.
//
// # Backends
//
// Database is implemented by the memory, jsonfile, store (SQLite), boltdb
// and pgstore packages, and by FuncDatabase, which forwards to plain
// function values. All backends share RankTopK so ranking is identical
// everywhere.
//
// # Scopes
//
// Search code reaches the database in effect through a ScopeStack owned by
// its goroutine or through a context carrying the scope chain.
package database
