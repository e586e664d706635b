package database

import (
	"context"
	"slices"

	"github.com/roach88/tunedb/internal/ir"
)

// Database stores workloads and their tuning records.
//
// Native implementations must be safe for concurrent use. A FuncDatabase is
// only as safe as the functions it forwards to.
type Database interface {
	// HasWorkload reports whether a module with the same hash was committed.
	HasWorkload(ctx context.Context, mod *ir.Module) (bool, error)

	// CommitWorkload registers mod if needed and returns the stored workload.
	// Equal hashes always yield a workload with that hash.
	CommitWorkload(ctx context.Context, mod *ir.Module) (*Workload, error)

	// CommitTuningRecord appends a record. Its workload must be committed.
	CommitTuningRecord(ctx context.Context, rec *TuningRecord) error

	// GetTopK returns at most k measured records of w, fastest first.
	GetTopK(ctx context.Context, w *Workload, k int) ([]*TuningRecord, error)

	// GetAllTuningRecords returns every record.
	GetAllTuningRecords(ctx context.Context) ([]*TuningRecord, error)

	// Size returns the number of records.
	Size(ctx context.Context) (int, error)
}

// RankTopK orders records by ascending mean run time and keeps the first k.
// Unmeasured records are dropped. records must be in commit order; ties keep
// that order. The input slice is not modified.
func RankTopK(records []*TuningRecord, k int) []*TuningRecord {
	if k <= 0 {
		return []*TuningRecord{}
	}
	type ranked struct {
		rec  *TuningRecord
		mean float64
	}
	measured := make([]ranked, 0, len(records))
	for _, r := range records {
		if mean, ok := r.MeanRunSecs(); ok {
			measured = append(measured, ranked{r, mean})
		}
	}
	slices.SortStableFunc(measured, func(a, b ranked) int {
		switch {
		case a.mean < b.mean:
			return -1
		case a.mean > b.mean:
			return 1
		default:
			return 0
		}
	})
	if len(measured) > k {
		measured = measured[:k]
	}
	out := make([]*TuningRecord, len(measured))
	for i, m := range measured {
		out[i] = m.rec
	}
	return out
}
