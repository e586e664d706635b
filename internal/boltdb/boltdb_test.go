package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/dbtest"
	"github.com/roach88/tunedb/internal/testutil"
)

// newTestStore creates a temporary bbolt store for testing.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestContract(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Database {
		s, _ := newTestStore(t)
		return s
	})
}

func TestPersistence(t *testing.T) {
	dbtest.RunPersistent(t, func(t *testing.T, dir string) database.Database {
		s, err := Open(filepath.Join(dir, "tune.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRecordKeysAreGloballyOrdered(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a, err := s.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	b, err := s.CommitWorkload(ctx, testutil.Matmul(32))
	require.NoError(t, err)
	order := []*database.TuningRecord{
		testutil.Record(t, b, 0, 3.0),
		testutil.Record(t, a, 0, 1.0),
		testutil.Record(t, b, 1, 2.0),
	}
	for _, rec := range order {
		require.NoError(t, s.CommitTuningRecord(ctx, rec))
	}

	all, err := s.GetAllTuningRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := range order {
		testutil.AssertSameRecord(t, order[i], all[i])
	}
}

// tamper reopens the file at path, applies fn in a write transaction and
// returns a fresh store with an empty workload cache.
func tamper(t *testing.T, s *Store, path string, fn func(tx *bolt.Tx) error) *Store {
	t.Helper()
	require.NoError(t, s.db.Update(fn))
	require.NoError(t, s.Close())
	fresh, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { fresh.Close() })
	return fresh
}

func TestDetectsCorruptWorkload(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)
	w, err := s.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	require.NoError(t, s.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0)))

	other, err := database.NewWorkload(testutil.Matmul(32))
	require.NoError(t, err)
	text, err := database.EncodeWorkload(other)
	require.NoError(t, err)

	fresh := tamper(t, s, path, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).Put(w.Hash[:], text)
	})

	_, err = fresh.GetTopK(ctx, w, 1)
	require.Error(t, err)
	assert.True(t, database.IsCorruptionError(err), "got %v", err)

	problems, err := fresh.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, "workload", problems[0].Kind)
	assert.Equal(t, "record", problems[1].Kind)
}

func TestDetectsMalformedRecord(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)
	w, err := s.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	require.NoError(t, s.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0)))

	fresh := tamper(t, s, path, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Bucket(w.Hash[:]).Put(seqKey(1), []byte(`[null]`))
	})

	_, err = fresh.GetAllTuningRecords(ctx)
	require.Error(t, err)
	assert.True(t, database.IsMalformedRecordError(err), "got %v", err)

	problems, err := fresh.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, w.Hash.String()+"/1", problems[0].Key)
}

func TestWorkloadsListsEachHashOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for _, n := range []int64{16, 32, 16} {
		_, err := s.CommitWorkload(ctx, testutil.Matmul(n))
		require.NoError(t, err)
	}
	ws, err := s.Workloads(ctx)
	require.NoError(t, err)
	assert.Len(t, ws, 2)
}
