// Package store is the SQLite Database backend.
//
// Each workload is one row keyed by its structural hash; each tuning record
// is one row referencing that hash. Both keep the portable JSON form as
// text, so a row decodes exactly like a line of the JSON-file backend and
// every read re-verifies the workload hash.
//
// # Ordering
//
//   - seq INTEGER AUTOINCREMENT is the commit order. Queries that return
//     several rows always ORDER BY seq (GetTopK: mean_run_secs, seq).
//   - mean_run_secs is computed at commit time and is NULL for unmeasured
//     records, which GetTopK filters out.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Records cannot reference an unknown workload
package store
