package querysql

import "github.com/roach88/tunedb/internal/ir"

// StableKey is the append-only sequence column every query is ordered by last.
const StableKey = "seq"

// Predicate is a filter condition. Sealed to this package.
type Predicate interface {
	predicateNode()
}

// Equals matches rows where Field = Value.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// NotNull matches rows where Field IS NOT NULL.
type NotNull struct {
	Field string
}

func (NotNull) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Order is one ORDER BY key.
type Order struct {
	Field string
	Desc  bool
}

// Select reads Columns from a single table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order>, seq ASC LIMIT <limit>
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil matches all rows
	OrderBy []Order
	Limit   int // 0 means no limit
}

// RecordColumns are the columns a backend needs to decode a record row.
var RecordColumns = []string{"id", "workload_hash", "record"}

// AllRecords selects every record of table in commit order.
func AllRecords(table string) Select {
	return Select{From: table, Columns: RecordColumns}
}

// RankedRecords selects the k fastest measured records of a workload.
// Unmeasured records have a NULL mean and never rank.
func RankedRecords(table, workloadHash string, k int) Select {
	return Select{
		From:    table,
		Columns: RecordColumns,
		Filter: And{Predicates: []Predicate{
			Equals{Field: "workload_hash", Value: ir.IRString(workloadHash)},
			NotNull{Field: "mean_run_secs"},
		}},
		OrderBy: []Order{{Field: "mean_run_secs"}},
		Limit:   k,
	}
}
