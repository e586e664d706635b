// Package memory is an in-process Database backed by maps.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// Database keeps every workload and record in memory.
type Database struct {
	mu        sync.RWMutex
	workloads map[ir.Hash]*database.Workload
	records   map[ir.Hash][]*database.TuningRecord
	all       []*database.TuningRecord
	order     []*database.Workload
}

var (
	_ database.Database       = (*Database)(nil)
	_ database.WorkloadLister = (*Database)(nil)
)

// New returns an empty database.
func New() *Database {
	return &Database{
		workloads: make(map[ir.Hash]*database.Workload),
		records:   make(map[ir.Hash][]*database.TuningRecord),
	}
}

// HasWorkload reports whether mod's hash was committed.
func (d *Database) HasWorkload(_ context.Context, mod *ir.Module) (bool, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return false, fmt.Errorf("has workload: %w", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.workloads[h]
	return ok, nil
}

// CommitWorkload stores a clone of mod unless its hash is already present.
func (d *Database) CommitWorkload(_ context.Context, mod *ir.Module) (*database.Workload, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, fmt.Errorf("commit workload: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workloads[h]; ok {
		return w, nil
	}
	w := database.NewWorkloadWithHash(mod.Clone(), h)
	d.workloads[h] = w
	d.order = append(d.order, w)
	return w, nil
}

// CommitTuningRecord appends rec, bound to the stored workload.
func (d *Database) CommitTuningRecord(_ context.Context, rec *database.TuningRecord) error {
	if rec == nil || rec.Workload == nil || rec.Trace == nil {
		return fmt.Errorf("commit tuning record: record must have a workload and a trace")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workloads[rec.Workload.Hash]
	if !ok {
		return fmt.Errorf("commit tuning record for %s: %w", rec.Workload.Hash, database.ErrWorkloadNotFound)
	}
	if _, _, err := database.EncodeCommittedRecord(rec, w); err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", w.Hash, err)
	}
	stored := *rec
	stored.Workload = w
	d.records[w.Hash] = append(d.records[w.Hash], &stored)
	d.all = append(d.all, &stored)
	return nil
}

// GetTopK ranks the records of w.
func (d *Database) GetTopK(_ context.Context, w *database.Workload, k int) ([]*database.TuningRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return database.RankTopK(d.records[w.Hash], k), nil
}

// GetAllTuningRecords returns every record in commit order.
func (d *Database) GetAllTuningRecords(_ context.Context) ([]*database.TuningRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*database.TuningRecord, len(d.all))
	copy(out, d.all)
	return out, nil
}

// Size returns the number of records.
func (d *Database) Size(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.all), nil
}

// Workloads returns every committed workload in commit order.
func (d *Database) Workloads(_ context.Context) ([]*database.Workload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*database.Workload, len(d.order))
	copy(out, d.order)
	return out, nil
}
