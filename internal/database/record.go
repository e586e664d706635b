package database

import (
	"fmt"
	"math"

	"github.com/roach88/tunedb/internal/arginfo"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/schedule"
	"github.com/roach88/tunedb/internal/target"
)

// TuningRecord is one candidate schedule for a workload.
// RunSecs, Target and ArgsInfo are optional; nil means absent.
type TuningRecord struct {
	Trace    *schedule.Trace
	Workload *Workload
	RunSecs  []float64
	Target   *target.Target
	ArgsInfo []arginfo.ArgInfo
}

// MeasureCandidate is a record materialized into a runnable schedule.
type MeasureCandidate struct {
	Sch      *schedule.Schedule
	ArgsInfo []arginfo.ArgInfo
}

// NewTuningRecord aggregates its arguments without validation.
func NewTuningRecord(trace *schedule.Trace, w *Workload, runSecs []float64, tgt *target.Target, args []arginfo.ArgInfo) *TuningRecord {
	return &TuningRecord{Trace: trace, Workload: w, RunSecs: runSecs, Target: tgt, ArgsInfo: args}
}

// MeanRunSecs returns the mean measured run time. ok is false for an
// unmeasured record.
func (r *TuningRecord) MeanRunSecs() (mean float64, ok bool) {
	if len(r.RunSecs) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range r.RunSecs {
		sum += s
	}
	return sum / float64(len(r.RunSecs)), true
}

// IsMeasured reports whether the record carries at least one run time.
func (r *TuningRecord) IsMeasured() bool {
	return len(r.RunSecs) > 0
}

// AsMeasureCandidate replays the trace over the workload module and infers
// the entry function's arguments with layout rewrites undone.
func (r *TuningRecord) AsMeasureCandidate() (*MeasureCandidate, error) {
	sch := schedule.Traced(r.Workload.Mod, -1, 0, schedule.RenderDetail)
	if err := r.Trace.ApplyToSchedule(sch, false); err != nil {
		return nil, fmt.Errorf("measure candidate for workload %s: %w", r.Workload.Hash, err)
	}
	args, err := arginfo.FromEntryFunc(sch.Mod(), true)
	if err != nil {
		return nil, fmt.Errorf("measure candidate for workload %s: %w", r.Workload.Hash, err)
	}
	return &MeasureCandidate{Sch: sch, ArgsInfo: args}, nil
}

// AsJSON returns [trace, run_secs|null, target|null, args_info|null].
func (r *TuningRecord) AsJSON() (ir.IRValue, error) {
	if r.Trace == nil {
		return nil, fmt.Errorf("tuning record: nil trace")
	}
	var runSecs ir.IRValue = ir.IRNull{}
	if r.RunSecs != nil {
		arr := make(ir.IRArray, len(r.RunSecs))
		for i, s := range r.RunSecs {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return nil, fmt.Errorf("tuning record: run_secs[%d] is %v", i, s)
			}
			arr[i] = ir.IRFloat(s)
		}
		runSecs = arr
	}
	var tgt ir.IRValue = ir.IRNull{}
	if r.Target != nil {
		tgt = r.Target.Export()
	}
	var args ir.IRValue = ir.IRNull{}
	if r.ArgsInfo != nil {
		args = arginfo.ListAsJSON(r.ArgsInfo)
	}
	return ir.IRArray{r.Trace.AsJSON(false), runSecs, tgt, args}, nil
}

// TuningRecordFromJSON decodes the form produced by AsJSON. The trace is
// decoded last because materializing it replays every instruction over
// w's module.
func TuningRecordFromJSON(v ir.IRValue, w *Workload) (*TuningRecord, error) {
	arr, ok := v.(ir.IRArray)
	if !ok || len(arr) != 4 {
		return nil, malformed(v, nil, "tuning record: expected [trace, run_secs, target, args_info], got %s", describe(v))
	}

	var runSecs []float64
	if !ir.IsNull(arr[1]) {
		secs, ok := arr[1].(ir.IRArray)
		if !ok {
			return nil, malformed(v, nil, "tuning record: run_secs: expected array, got %s", ir.KindOf(arr[1]))
		}
		runSecs = make([]float64, len(secs))
		for i, s := range secs {
			f, ok := ir.Number(s)
			if !ok {
				return nil, malformed(v, nil, "tuning record: run_secs[%d]: expected number, got %s", i, ir.KindOf(s))
			}
			runSecs[i] = f
		}
	}

	var tgt *target.Target
	if !ir.IsNull(arr[2]) {
		cfg, ok := arr[2].(ir.IRObject)
		if !ok {
			return nil, malformed(v, nil, "tuning record: target: expected object, got %s", ir.KindOf(arr[2]))
		}
		t, err := target.FromConfig(cfg)
		if err != nil {
			return nil, malformed(v, err, "tuning record: target")
		}
		tgt = t
	}

	var args []arginfo.ArgInfo
	if !ir.IsNull(arr[3]) {
		a, err := arginfo.ListFromJSON(arr[3])
		if err != nil {
			return nil, malformed(v, err, "tuning record: args_info")
		}
		args = a
	}

	sch := schedule.Traced(w.Mod, -1, 0, schedule.RenderNone)
	if err := schedule.ApplyJSONToSchedule(arr[0], sch); err != nil {
		return nil, malformed(v, err, "tuning record: trace does not replay on workload %s", w.Hash)
	}

	return NewTuningRecord(sch.Trace(), w, runSecs, tgt, args), nil
}
