package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/dbtest"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/testutil"
)

func TestContract(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Database { return New() })
}

func TestCommitWorkloadReturnsSameHandle(t *testing.T) {
	ctx := context.Background()
	db := New()
	w1, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	w2, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	ws, err := db.Workloads(ctx)
	require.NoError(t, err)
	assert.Len(t, ws, 1)
}

func TestStoredModuleIsIsolatedFromCaller(t *testing.T) {
	ctx := context.Background()
	db := New()
	mod := testutil.Matmul(16)
	w, err := db.CommitWorkload(ctx, mod)
	require.NoError(t, err)

	mod.Funcs[0].Blocks[0].Loops[0].Extent = 3
	assert.Equal(t, w.Hash, ir.MustStructuralHash(w.Mod))
}

func TestRecordsBindToCanonicalWorkload(t *testing.T) {
	ctx := context.Background()
	db := New()
	stored, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	caller, err := database.NewWorkload(testutil.Matmul(16))
	require.NoError(t, err)
	require.NoError(t, db.CommitTuningRecord(ctx, testutil.Record(t, caller, 0, 1.0)))

	top, err := db.GetTopK(ctx, stored, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Same(t, stored, top[0].Workload)
}

func TestCommitTuningRecordRejectsIncomplete(t *testing.T) {
	db := New()
	require.Error(t, db.CommitTuningRecord(context.Background(), &database.TuningRecord{}))
}
