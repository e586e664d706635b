// Package testutil provides fixtures shared by backend and CLI tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/arginfo"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/schedule"
	"github.com/roach88/tunedb/internal/target"
)

// DefaultTarget is the target attached to fixture records.
const DefaultTarget = "llvm -mcpu=skylake -num-cores=4"

// Matmul returns an n x n x n float32 matrix multiply with block "C" and
// serial loops i, j, k. n must be even for TunedTrace.
func Matmul(n int64) *ir.Module {
	var params []ir.Buffer
	for _, name := range []string{"A", "B", "C"} {
		params = append(params, ir.Buffer{Name: name, DType: "float32", Shape: []int64{n, n}})
	}
	return &ir.Module{Funcs: []*ir.PrimFunc{{
		Name:   "main",
		Params: params,
		Blocks: []*ir.Block{{
			Name: "C",
			Loops: []*ir.Loop{
				{Var: "i", Extent: n, Kind: ir.LoopSerial},
				{Var: "j", Extent: n, Kind: ir.LoopSerial},
				{Var: "k", Extent: n, Kind: ir.LoopSerial},
			},
		}},
	}}}
}

// TunedTrace records a small schedule on a Matmul module. variant selects
// the inner split factor so different variants yield distinct traces.
func TunedTrace(t testing.TB, mod *ir.Module, variant int) *schedule.Trace {
	t.Helper()
	factor := int64(2)
	if variant%2 == 1 {
		factor = 1
	}
	sch := schedule.Traced(mod, 1, schedule.DebugVerify, schedule.RenderDetail)
	vars, err := sch.Split("C", "i", []int64{-1, factor})
	require.NoError(t, err)
	require.NoError(t, sch.Parallel("C", vars[0]))
	require.NoError(t, sch.Vectorize("C", "k"))
	require.NoError(t, sch.Annotate("C", "variant", ir.IRInt(int64(variant))))
	sch.EnterPostproc()
	require.NoError(t, sch.Unroll("C", vars[1]))
	return sch.Trace()
}

// Record builds a fully populated record for w. With no runSecs the record
// is unmeasured.
func Record(t testing.TB, w *database.Workload, variant int, runSecs ...float64) *database.TuningRecord {
	t.Helper()
	args, err := arginfo.FromEntryFunc(w.Mod, true)
	require.NoError(t, err)
	var secs []float64
	if len(runSecs) > 0 {
		secs = runSecs
	}
	return database.NewTuningRecord(TunedTrace(t, w.Mod, variant), w, secs, target.MustParse(DefaultTarget), args)
}

// AssertSameRecord checks the fields that survive persistence.
func AssertSameRecord(t testing.TB, want, got *database.TuningRecord) {
	t.Helper()
	require.NotNil(t, got)
	require.True(t, want.Workload.Equal(got.Workload), "workload %s != %s", want.Workload.Hash, got.Workload.Hash)
	require.True(t, want.Trace.Equal(got.Trace), "traces differ")
	require.Equal(t, want.RunSecs, got.RunSecs)
	require.True(t, want.Target.Equal(got.Target), "targets differ")
	require.Equal(t, want.ArgsInfo, got.ArgsInfo)
}
