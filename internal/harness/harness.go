package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/tunedb/internal/arginfo"
	"github.com/roach88/tunedb/internal/compiler"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/target"
)

// namedRecord is a record committed by the flow under its scenario name.
type namedRecord struct {
	name string
	rec  *database.TuningRecord
}

// Harness holds the state of one scenario execution.
type Harness struct {
	db        database.Database
	modules   map[string]*ir.Module
	workloads map[string]*database.Workload
	committed []namedRecord
}

// Run executes a scenario against db and returns the result.
//
// db should be empty; assertions on size and rankings count every record
// it holds. Run returns an error only when the scenario itself cannot be
// executed (unreadable module, bad target). Unexpected database behavior
// is reported through Result.Errors.
//
// Execution flow:
// 1. Load every module
// 2. Execute flow steps, checking expected errors
// 3. Evaluate assertions
// 4. Collect the final ranking of every committed workload
func Run(ctx context.Context, scenario *Scenario, db database.Database) (*Result, error) {
	h := &Harness{
		db:        db,
		modules:   make(map[string]*ir.Module, len(scenario.Modules)),
		workloads: make(map[string]*database.Workload),
	}
	for name, path := range scenario.Modules {
		mod, err := compiler.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		h.modules[name] = mod
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.executeStep(ctx, i, step, result)
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.Events = append(result.Events, ev)
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	if err := h.collectRankings(ctx, result); err != nil {
		result.AddError(err.Error())
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) (Event, error) {
	if step.CommitWorkload != "" {
		ev := Event{Step: i, Op: "commit_workload", Subject: step.CommitWorkload}
		w, err := h.db.CommitWorkload(ctx, h.modules[step.CommitWorkload])
		ev.Outcome = h.checkOutcome(i, step.ExpectError, err, result)
		if err == nil {
			h.workloads[step.CommitWorkload] = w
		}
		return ev, nil
	}

	r := step.CommitRecord
	ev := Event{Step: i, Op: "commit_record", Subject: r.Name}
	w, ok := h.workloads[r.Workload]
	if !ok {
		// A handle the database never saw; committing a record against it
		// must fail.
		var err error
		if w, err = database.NewWorkload(h.modules[r.Workload]); err != nil {
			return ev, err
		}
	}

	trace, err := buildTrace(w.Mod, r.Schedule)
	if err != nil {
		ev.Outcome = h.checkOutcome(i, step.ExpectError, classify(ExpectScheduleError, err), result)
		return ev, nil
	}

	var tgt *target.Target
	if r.Target != "" {
		if tgt, err = target.Parse(r.Target); err != nil {
			return ev, err
		}
	}
	var args []arginfo.ArgInfo
	if r.ArgsInfo {
		if args, err = arginfo.FromEntryFunc(w.Mod, true); err != nil {
			return ev, err
		}
	}

	rec := database.NewTuningRecord(trace, w, r.RunSecs, tgt, args)
	err = h.db.CommitTuningRecord(ctx, rec)
	ev.Outcome = h.checkOutcome(i, step.ExpectError, err, result)
	if err == nil {
		h.committed = append(h.committed, namedRecord{name: r.Name, rec: rec})
	}
	return ev, nil
}

// kindError tags an error with the expected-error kind it satisfies.
type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func classify(kind string, err error) error {
	return &kindError{kind: kind, err: err}
}

// checkOutcome compares err with the step's expected error kind and returns
// the event outcome.
func (h *Harness) checkOutcome(i int, expect string, err error, result *Result) string {
	got := OutcomeOK
	var ke *kindError
	switch {
	case err == nil:
	case errors.As(err, &ke):
		got = ke.kind
	case errors.Is(err, database.ErrWorkloadNotFound):
		got = ExpectWorkloadNotFound
	default:
		result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", i, err))
		return OutcomeUnexpected
	}

	want := expect
	if want == "" {
		want = OutcomeOK
	}
	if got != want {
		msg := fmt.Sprintf("flow[%d]: expected %s, got %s", i, want, got)
		if err != nil {
			msg += ": " + err.Error()
		}
		result.AddError(msg)
	}
	return got
}

// collectRankings records the full measured ranking of every committed
// workload, in module name order.
func (h *Harness) collectRankings(ctx context.Context, result *Result) error {
	n, err := h.db.Size(ctx)
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}
	result.Size = n

	names := make([]string, 0, len(h.workloads))
	for name := range h.workloads {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		recs, err := h.db.GetTopK(ctx, h.workloads[name], n)
		if err != nil {
			return fmt.Errorf("ranking %s: %w", name, err)
		}
		ranked := make([]RankedRecord, len(recs))
		for i, label := range h.identify(recs) {
			ranked[i] = RankedRecord{Record: label}
			if mean, ok := recs[i].MeanRunSecs(); ok {
				ranked[i].MeanRunSecs = &mean
			}
			if recs[i].Target != nil {
				ranked[i].Target = recs[i].Target.String()
			}
		}
		result.Rankings[name] = ranked
	}
	return nil
}

// identify maps records returned by the database back to scenario names.
// Each returned record takes the first unused committed record with the
// same content, so identical records resolve in commit order.
// Unrecognized records are labeled "?".
func (h *Harness) identify(recs []*database.TuningRecord) []string {
	used := make([]bool, len(h.committed))
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = "?"
		for j, c := range h.committed {
			if !used[j] && sameRecord(c.rec, rec) {
				used[j] = true
				out[i] = c.name
				break
			}
		}
	}
	return out
}

func sameRecord(a, b *database.TuningRecord) bool {
	return a.Workload.Hash == b.Workload.Hash &&
		a.Trace.Equal(b.Trace) &&
		slices.Equal(a.RunSecs, b.RunSecs) &&
		a.Target.Equal(b.Target)
}
