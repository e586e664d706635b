package database

import (
	"context"
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/schedule"
	"github.com/roach88/tunedb/internal/target"
)

// QueryTuningRecord returns the best record for mod, or nil when the module
// was never committed or has no measured records. tgt does not filter
// results.
func QueryTuningRecord(ctx context.Context, db Database, mod *ir.Module, tgt *target.Target) (*TuningRecord, error) {
	has, err := db.HasWorkload(ctx, mod)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if !has {
		return nil, nil
	}
	// The workload exists, so this only fetches the canonical handle.
	w, err := db.CommitWorkload(ctx, mod)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	records, err := db.GetTopK(ctx, w, 1)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// QuerySchedule replays the best record onto its stored workload module.
// The query module is used only for lookup.
func QuerySchedule(ctx context.Context, db Database, mod *ir.Module, tgt *target.Target) (*schedule.Schedule, error) {
	rec, err := QueryTuningRecord(ctx, db, mod, tgt)
	if err != nil || rec == nil {
		return nil, err
	}
	sch := schedule.Traced(rec.Workload.Mod, -1, 0, schedule.RenderDetail)
	if err := rec.Trace.ApplyToSchedule(sch, false); err != nil {
		return nil, fmt.Errorf("query schedule for workload %s: %w", rec.Workload.Hash, err)
	}
	return sch, nil
}

// QueryIRModule returns the module produced by QuerySchedule, or nil.
func QueryIRModule(ctx context.Context, db Database, mod *ir.Module, tgt *target.Target) (*ir.Module, error) {
	sch, err := QuerySchedule(ctx, db, mod, tgt)
	if err != nil || sch == nil {
		return nil, err
	}
	return sch.Mod(), nil
}
