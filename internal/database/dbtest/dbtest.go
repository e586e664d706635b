// Package dbtest is the behavioral test suite every Database backend runs.
package dbtest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/schedule"
	"github.com/roach88/tunedb/internal/target"
	"github.com/roach88/tunedb/internal/testutil"
)

// Factory opens an empty database for one subtest. Cleanup is the
// factory's responsibility (t.Cleanup).
type Factory func(t *testing.T) database.Database

// ReopenFactory opens the database stored at dir. The suite calls it twice
// on the same dir, closing the first handle through io.Closer in between.
type ReopenFactory func(t *testing.T, dir string) database.Database

// Run executes the contract suite against fresh databases from open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, db database.Database)
	}{
		{"CommitWorkloadDedups", testCommitWorkloadDedups},
		{"HasWorkload", testHasWorkload},
		{"TopKRanking", testTopKRanking},
		{"TopKBounds", testTopKBounds},
		{"TopKExcludesUnmeasured", testTopKExcludesUnmeasured},
		{"TopKTiesKeepCommitOrder", testTopKTiesKeepCommitOrder},
		{"RecordsAreScopedToWorkload", testRecordsScopedToWorkload},
		{"RecordFieldsSurvive", testRecordFieldsSurvive},
		{"RecordRequiresCommittedWorkload", testRecordRequiresWorkload},
		{"RejectsTraceThatDoesNotReplay", testRejectsUnreplayableTrace},
		{"SizeCountsRecords", testSizeCountsRecords},
		{"QueryMissDoesNotMutate", testQueryMiss},
		{"QueryHit", testQueryHit},
		{"ConcurrentCommits", testConcurrentCommits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func testCommitWorkloadDedups(t *testing.T, db database.Database) {
	ctx := context.Background()
	w1, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	w2, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	assert.Equal(t, w1.Hash, w2.Hash)
	assert.True(t, w1.Equal(w2))
	assert.Equal(t, ir.MustStructuralHash(testutil.Matmul(16)), w1.Hash)
	assert.Equal(t, ir.MustStructuralHash(w1.Mod), w1.Hash)

	other, err := db.CommitWorkload(ctx, testutil.Matmul(32))
	require.NoError(t, err)
	assert.NotEqual(t, w1.Hash, other.Hash)
}

func testHasWorkload(t *testing.T, db database.Database) {
	ctx := context.Background()
	has, err := db.HasWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	assert.False(t, has)

	_, err = db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	has, err = db.HasWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = db.HasWorkload(ctx, testutil.Matmul(8))
	require.NoError(t, err)
	assert.False(t, has)
}

func commitAll(t *testing.T, db database.Database, recs ...*database.TuningRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, db.CommitTuningRecord(context.Background(), r))
	}
}

func means(t *testing.T, recs []*database.TuningRecord) []float64 {
	t.Helper()
	out := make([]float64, len(recs))
	for i, r := range recs {
		m, ok := r.MeanRunSecs()
		require.True(t, ok)
		out[i] = m
	}
	return out
}

func testTopKRanking(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	commitAll(t, db,
		testutil.Record(t, w, 0, 3.0),
		testutil.Record(t, w, 1, 1.0, 2.0),
		testutil.Record(t, w, 2, 0.5),
		testutil.Record(t, w, 3, 4.0, 4.0, 4.0),
	)

	top, err := db.GetTopK(ctx, w, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5, 3.0}, means(t, top))
	for _, r := range top {
		assert.True(t, r.Workload.Equal(w))
	}
}

func testTopKBounds(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	commitAll(t, db, testutil.Record(t, w, 0, 2.0), testutil.Record(t, w, 1, 1.0))

	for _, k := range []int{0, -1} {
		top, err := db.GetTopK(ctx, w, k)
		require.NoError(t, err)
		assert.NotNil(t, top)
		assert.Empty(t, top)
	}

	top, err := db.GetTopK(ctx, w, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 2.0}, means(t, top))
}

func testTopKExcludesUnmeasured(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	unmeasured := testutil.Record(t, w, 0)
	empty := testutil.Record(t, w, 1)
	empty.RunSecs = []float64{}
	commitAll(t, db, unmeasured, empty, testutil.Record(t, w, 2, 9.0))

	top, err := db.GetTopK(ctx, w, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{9.0}, means(t, top))

	size, err := db.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func testTopKTiesKeepCommitOrder(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	first := testutil.Record(t, w, 0, 1.0)
	second := testutil.Record(t, w, 1, 1.0)
	commitAll(t, db, first, second)

	for i := 0; i < 3; i++ {
		top, err := db.GetTopK(ctx, w, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.True(t, first.Trace.Equal(top[0].Trace))
		assert.True(t, second.Trace.Equal(top[1].Trace))
	}
}

func testRecordsScopedToWorkload(t *testing.T, db database.Database) {
	ctx := context.Background()
	w16, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	w32, err := db.CommitWorkload(ctx, testutil.Matmul(32))
	require.NoError(t, err)

	commitAll(t, db, testutil.Record(t, w16, 0, 1.0), testutil.Record(t, w32, 0, 0.1))

	top, err := db.GetTopK(ctx, w16, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, w16.Hash, top[0].Workload.Hash)

	all, err := db.GetAllTuningRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testRecordFieldsSurvive(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	rec := testutil.Record(t, w, 0, 0.25, 0.75)
	commitAll(t, db, rec)

	top, err := db.GetTopK(ctx, w, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	testutil.AssertSameRecord(t, rec, top[0])

	all, err := db.GetAllTuningRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	testutil.AssertSameRecord(t, rec, all[0])
}

func testRecordRequiresWorkload(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := database.NewWorkload(testutil.Matmul(16))
	require.NoError(t, err)

	err = db.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrWorkloadNotFound), "got %v", err)

	size, err := db.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func testRejectsUnreplayableTrace(t *testing.T, db database.Database) {
	ctx := context.Background()
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	commitAll(t, db, testutil.Record(t, w, 0, 2.0))

	bad := testutil.Record(t, w, 0, 0.5)
	bad.Trace = &schedule.Trace{Insts: []schedule.Instruction{{
		Kind:   schedule.KindSplit,
		Inputs: []string{"nope", "i"},
		Attrs:  ir.IRObject{"factors": ir.IntArray([]int64{-1, 2})},
	}}}
	err = db.CommitTuningRecord(ctx, bad)
	require.Error(t, err)
	assert.True(t, database.IsMalformedRecordError(err), "got %v", err)

	size, err := db.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size, "rejected record must not be stored")

	top, err := db.GetTopK(ctx, w, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.0}, means(t, top))

	commitAll(t, db, testutil.Record(t, w, 1, 1.0))
	other, err := db.CommitWorkload(ctx, testutil.Matmul(32))
	require.NoError(t, err)
	commitAll(t, db, testutil.Record(t, other, 0, 3.0))

	top, err = db.GetTopK(ctx, w, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 2.0}, means(t, top))

	best, err := database.QueryTuningRecord(ctx, db, testutil.Matmul(16), target.MustParse(testutil.DefaultTarget))
	require.NoError(t, err)
	require.NotNil(t, best)
	mean, _ := best.MeanRunSecs()
	assert.Equal(t, 1.0, mean)

	size, err = db.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func testSizeCountsRecords(t *testing.T, db database.Database) {
	ctx := context.Background()
	size, err := db.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	_, err = db.CommitWorkload(ctx, testutil.Matmul(32))
	require.NoError(t, err)

	size, err = db.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size, "workloads are not counted")

	commitAll(t, db, testutil.Record(t, w, 0, 1.0), testutil.Record(t, w, 0, 1.0))
	size, err = db.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size, "identical records are not deduplicated")
}

func testQueryMiss(t *testing.T, db database.Database) {
	ctx := context.Background()
	mod := testutil.Matmul(16)
	tgt := target.MustParse(testutil.DefaultTarget)

	rec, err := database.QueryTuningRecord(ctx, db, mod, tgt)
	require.NoError(t, err)
	assert.Nil(t, rec)

	sch, err := database.QuerySchedule(ctx, db, mod, tgt)
	require.NoError(t, err)
	assert.Nil(t, sch)

	out, err := database.QueryIRModule(ctx, db, mod, tgt)
	require.NoError(t, err)
	assert.Nil(t, out)

	has, err := db.HasWorkload(ctx, mod)
	require.NoError(t, err)
	assert.False(t, has, "a query must never register a workload")

	// Committed but unmeasured is also a miss.
	w, err := db.CommitWorkload(ctx, mod)
	require.NoError(t, err)
	commitAll(t, db, testutil.Record(t, w, 0))
	rec, err = database.QueryTuningRecord(ctx, db, mod, tgt)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func testQueryHit(t *testing.T, db database.Database) {
	ctx := context.Background()
	mod := testutil.Matmul(16)
	w, err := db.CommitWorkload(ctx, mod)
	require.NoError(t, err)

	best := testutil.Record(t, w, 1, 1.2)
	commitAll(t, db, testutil.Record(t, w, 0, 5.0), best)

	tgt := target.MustParse(testutil.DefaultTarget)
	rec, err := database.QueryTuningRecord(ctx, db, testutil.Matmul(16), tgt)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, best.Trace.Equal(rec.Trace))

	sch, err := database.QuerySchedule(ctx, db, testutil.Matmul(16), tgt)
	require.NoError(t, err)
	require.NotNil(t, sch)

	cand, err := best.AsMeasureCandidate()
	require.NoError(t, err)
	assert.Equal(t, ir.MustStructuralHash(cand.Sch.Mod()), ir.MustStructuralHash(sch.Mod()))

	out, err := database.QueryIRModule(ctx, db, testutil.Matmul(16), tgt)
	require.NoError(t, err)
	assert.Equal(t, ir.MustStructuralHash(sch.Mod()), ir.MustStructuralHash(out))
}

func testConcurrentCommits(t *testing.T, db database.Database) {
	ctx := context.Background()
	const workers = 8
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)

	recs := make([]*database.TuningRecord, workers)
	for i := range recs {
		recs[i] = testutil.Record(t, w, i, float64(i+1))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *database.TuningRecord) {
			defer wg.Done()
			if _, err := db.CommitWorkload(ctx, testutil.Matmul(16)); err != nil {
				errs <- err
				return
			}
			if err := db.CommitTuningRecord(ctx, rec); err != nil {
				errs <- err
			}
		}(rec)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	size, err := db.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, size)

	top, err := db.GetTopK(ctx, w, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0}, means(t, top))
}

// RunPersistent checks that records committed through one handle decode
// identically through a second handle opened on the same directory.
func RunPersistent(t *testing.T, open ReopenFactory) {
	ctx := context.Background()
	dir := t.TempDir()

	db := open(t, dir)
	w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	recs := []*database.TuningRecord{
		testutil.Record(t, w, 0, 2.0),
		testutil.Record(t, w, 1, 1.0),
		testutil.Record(t, w, 2),
	}
	commitAll(t, db, recs...)
	if c, ok := db.(io.Closer); ok {
		require.NoError(t, c.Close())
	}

	reopened := open(t, dir)
	has, err := reopened.HasWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	assert.True(t, has)

	size, err := reopened.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	w2, err := reopened.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	assert.Equal(t, w.Hash, w2.Hash)

	top, err := reopened.GetTopK(ctx, w2, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	testutil.AssertSameRecord(t, recs[1], top[0])
	testutil.AssertSameRecord(t, recs[0], top[1])

	all, err := reopened.GetAllTuningRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
