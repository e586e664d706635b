// Package querysql compiles record queries to parameterized SQL for the
// SQLite and Postgres backends.
//
// A query is a small portable fragment: one table, a conjunction of
// equality and non-null predicates, an ordering and an optional limit.
// Two rules hold for every compiled query:
//
//   - Values are always bound as parameters, never interpolated.
//   - The ORDER BY always ends with the stable key (seq ASC), so rows with
//     equal sort keys come back in commit order on every backend.
package querysql
