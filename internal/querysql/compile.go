package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tunedb/internal/ir"
)

// Dialect selects the placeholder syntax.
type Dialect int

const (
	SQLite   Dialect = iota // ?
	Postgres                // $1, $2, ...
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Compile validates q and renders it for dialect d. It returns the
// statement and its parameters in placeholder order.
func Compile(d Dialect, q Select) (string, []any, error) {
	if d != SQLite && d != Postgres {
		return "", nil, fmt.Errorf("unsupported dialect %s", d)
	}
	if errs := Validate(q); len(errs) > 0 {
		return "", nil, fmt.Errorf("invalid query: %w", errs[0])
	}
	b := &builder{dialect: d}

	b.sql.WriteString("SELECT ")
	b.sql.WriteString(strings.Join(q.Columns, ", "))
	b.sql.WriteString(" FROM ")
	b.sql.WriteString(q.From)

	if q.Filter != nil {
		if and, ok := q.Filter.(And); !ok || len(and.Predicates) > 0 {
			b.sql.WriteString(" WHERE ")
			b.predicate(q.Filter)
		}
	}

	b.sql.WriteString(" ORDER BY ")
	b.sql.WriteString(orderClause(q.OrderBy))

	if q.Limit > 0 {
		b.sql.WriteString(" LIMIT ")
		b.param(int64(q.Limit))
	}
	return b.sql.String(), b.params, nil
}

// orderClause renders the order keys followed by the stable key, unless the
// caller already ended with it.
func orderClause(keys []Order) string {
	parts := make([]string, 0, len(keys)+1)
	for _, o := range keys {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, o.Field+" "+dir)
	}
	if n := len(keys); n == 0 || keys[n-1].Field != StableKey {
		parts = append(parts, StableKey+" ASC")
	}
	return strings.Join(parts, ", ")
}

type builder struct {
	dialect Dialect
	sql     strings.Builder
	params  []any
}

func (b *builder) param(v any) {
	b.params = append(b.params, v)
	if b.dialect == Postgres {
		b.sql.WriteString("$" + strconv.Itoa(len(b.params)))
		return
	}
	b.sql.WriteString("?")
}

// predicate writes p. Validate has already rejected anything else.
func (b *builder) predicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v, _ := paramValue(pred.Value)
		b.sql.WriteString(pred.Field + " = ")
		b.param(v)
	case NotNull:
		b.sql.WriteString(pred.Field + " IS NOT NULL")
	case And:
		if len(pred.Predicates) == 0 {
			b.sql.WriteString("1 = 1")
			return
		}
		for i, sub := range pred.Predicates {
			if i > 0 {
				b.sql.WriteString(" AND ")
			}
			b.predicate(sub)
		}
	}
}

// paramValue converts a scalar value to a driver parameter.
func paramValue(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRFloat:
		return float64(val), nil
	case ir.IRNull:
		return nil, fmt.Errorf("null cannot be compared with =, use NotNull")
	default:
		return nil, fmt.Errorf("%s cannot be used as a parameter", ir.KindOf(v))
	}
}
