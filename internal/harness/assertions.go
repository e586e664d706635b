package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tunedb/internal/database"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Workload string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Workload != "" {
		fmt.Fprintf(&buf, " (%s)", e.Workload)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertSize:
		return h.assertSize(ctx, a)
	case AssertHasWorkload:
		return h.assertHasWorkload(ctx, a)
	case AssertTopK:
		return h.assertTopK(ctx, a)
	case AssertBest:
		return h.assertBest(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertSize(ctx context.Context, a Assertion) error {
	n, err := h.db.Size(ctx)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d record(s)", a.Count), Actual: fmt.Sprintf("%d record(s)", n)}
	}
	return nil
}

func (h *Harness) assertHasWorkload(ctx context.Context, a Assertion) error {
	has, err := h.db.HasWorkload(ctx, h.modules[a.Workload])
	if err != nil {
		return err
	}
	if has != *a.Expect {
		return &AssertionError{Type: a.Type, Workload: a.Workload, Expected: fmt.Sprint(*a.Expect), Actual: fmt.Sprint(has)}
	}
	return nil
}

func (h *Harness) assertTopK(ctx context.Context, a Assertion) error {
	w, ok := h.workloads[a.Workload]
	if !ok {
		return &AssertionError{Type: a.Type, Workload: a.Workload, Expected: "a committed workload", Actual: "never committed"}
	}
	recs, err := h.db.GetTopK(ctx, w, a.K)
	if err != nil {
		return err
	}
	got := h.identify(recs)
	if !slices.Equal(got, a.Records) && (len(got) > 0 || len(a.Records) > 0) {
		return &AssertionError{Type: a.Type, Workload: a.Workload, Expected: fmt.Sprint(a.Records), Actual: fmt.Sprint(got)}
	}
	return nil
}

func (h *Harness) assertBest(ctx context.Context, a Assertion) error {
	rec, err := database.QueryTuningRecord(ctx, h.db, h.modules[a.Workload], nil)
	if err != nil {
		return err
	}
	got := ""
	if rec != nil {
		got = h.identify([]*database.TuningRecord{rec})[0]
	}
	if got != a.Record {
		return &AssertionError{Type: a.Type, Workload: a.Workload, Expected: describeBest(a.Record), Actual: describeBest(got)}
	}
	return nil
}

func describeBest(name string) string {
	if name == "" {
		return "no record"
	}
	return "record " + name
}
