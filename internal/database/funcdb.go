package database

import (
	"context"

	"github.com/roach88/tunedb/internal/ir"
)

// Function types for FuncDatabase, one per Database method.
type (
	HasWorkloadFunc         func(ctx context.Context, mod *ir.Module) (bool, error)
	CommitWorkloadFunc      func(ctx context.Context, mod *ir.Module) (*Workload, error)
	CommitTuningRecordFunc  func(ctx context.Context, rec *TuningRecord) error
	GetTopKFunc             func(ctx context.Context, w *Workload, k int) ([]*TuningRecord, error)
	GetAllTuningRecordsFunc func(ctx context.Context) ([]*TuningRecord, error)
	SizeFunc                func(ctx context.Context) (int, error)
)

// Funcs bundles the functions a FuncDatabase forwards to.
type Funcs struct {
	HasWorkload         HasWorkloadFunc
	CommitWorkload      CommitWorkloadFunc
	CommitTuningRecord  CommitTuningRecordFunc
	GetTopK             GetTopKFunc
	GetAllTuningRecords GetAllTuningRecordsFunc
	Size                SizeFunc
}

// FuncDatabase adapts plain functions to the Database interface, for
// backends supplied by code that cannot implement the interface directly
// (plugins, RPC stubs, test doubles). Results are passed through unchecked.
type FuncDatabase struct {
	funcs Funcs
}

var _ Database = (*FuncDatabase)(nil)

// NewFuncDatabase returns a Database forwarding to funcs. Operations whose
// function is nil return ErrNotImplemented. The functions must be safe for
// concurrent use if the database is shared between goroutines.
func NewFuncDatabase(funcs Funcs) *FuncDatabase {
	return &FuncDatabase{funcs: funcs}
}

// HasWorkload calls Funcs.HasWorkload.
func (d *FuncDatabase) HasWorkload(ctx context.Context, mod *ir.Module) (bool, error) {
	if d.funcs.HasWorkload == nil {
		return false, ErrNotImplemented
	}
	return d.funcs.HasWorkload(ctx, mod)
}

// CommitWorkload calls Funcs.CommitWorkload.
func (d *FuncDatabase) CommitWorkload(ctx context.Context, mod *ir.Module) (*Workload, error) {
	if d.funcs.CommitWorkload == nil {
		return nil, ErrNotImplemented
	}
	return d.funcs.CommitWorkload(ctx, mod)
}

// CommitTuningRecord calls Funcs.CommitTuningRecord.
func (d *FuncDatabase) CommitTuningRecord(ctx context.Context, rec *TuningRecord) error {
	if d.funcs.CommitTuningRecord == nil {
		return ErrNotImplemented
	}
	return d.funcs.CommitTuningRecord(ctx, rec)
}

// GetTopK calls Funcs.GetTopK.
func (d *FuncDatabase) GetTopK(ctx context.Context, w *Workload, k int) ([]*TuningRecord, error) {
	if d.funcs.GetTopK == nil {
		return nil, ErrNotImplemented
	}
	return d.funcs.GetTopK(ctx, w, k)
}

// GetAllTuningRecords calls Funcs.GetAllTuningRecords.
func (d *FuncDatabase) GetAllTuningRecords(ctx context.Context) ([]*TuningRecord, error) {
	if d.funcs.GetAllTuningRecords == nil {
		return nil, ErrNotImplemented
	}
	return d.funcs.GetAllTuningRecords(ctx)
}

// Size calls Funcs.Size.
func (d *FuncDatabase) Size(ctx context.Context) (int, error) {
	if d.funcs.Size == nil {
		return 0, ErrNotImplemented
	}
	return d.funcs.Size(ctx)
}
