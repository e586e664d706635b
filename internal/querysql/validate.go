package querysql

import "fmt"

// ValidationError describes a query outside the portable fragment.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks q and returns every problem found.
func Validate(q Select) []ValidationError {
	var errs []ValidationError
	if err := checkIdent(q.From); err != "" {
		errs = append(errs, ValidationError{Field: "from", Message: err})
	}
	if len(q.Columns) == 0 {
		errs = append(errs, ValidationError{Field: "columns", Message: "at least one column is required"})
	}
	for i, c := range q.Columns {
		if err := checkIdent(c); err != "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("columns[%d]", i), Message: err})
		}
	}
	if q.Filter != nil {
		errs = append(errs, validatePredicate("filter", q.Filter)...)
	}
	for i, o := range q.OrderBy {
		field := fmt.Sprintf("order_by[%d]", i)
		if err := checkIdent(o.Field); err != "" {
			errs = append(errs, ValidationError{Field: field, Message: err})
		} else if o.Field == StableKey && i != len(q.OrderBy)-1 {
			errs = append(errs, ValidationError{Field: field, Message: "stable key must be the last order key"})
		}
	}
	if q.Limit < 0 {
		errs = append(errs, ValidationError{Field: "limit", Message: fmt.Sprintf("must not be negative, got %d", q.Limit)})
	}
	return errs
}

func validatePredicate(at string, p Predicate) []ValidationError {
	switch pred := p.(type) {
	case Equals:
		if err := checkIdent(pred.Field); err != "" {
			return []ValidationError{{Field: at, Message: err}}
		}
		if _, err := paramValue(pred.Value); err != nil {
			return []ValidationError{{Field: at, Message: err.Error()}}
		}
	case NotNull:
		if err := checkIdent(pred.Field); err != "" {
			return []ValidationError{{Field: at, Message: err}}
		}
	case And:
		var errs []ValidationError
		for i, sub := range pred.Predicates {
			errs = append(errs, validatePredicate(fmt.Sprintf("%s.and[%d]", at, i), sub)...)
		}
		return errs
	case nil:
		return []ValidationError{{Field: at, Message: "nil predicate"}}
	default:
		return []ValidationError{{Field: at, Message: fmt.Sprintf("unsupported predicate %T", p)}}
	}
	return nil
}

// checkIdent accepts lowercase SQL identifiers. Table and column names are
// spliced into the statement, so nothing else may pass.
func checkIdent(s string) string {
	if s == "" {
		return "identifier is empty"
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Sprintf("invalid identifier %q", s)
		}
	}
	return ""
}
