package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/dbtest"
	"github.com/roach88/tunedb/internal/testutil"
)

// dsnEnv names a throwaway database. Every test truncates both tables.
const dsnEnv = "TUNEDB_TEST_POSTGRES_DSN"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Truncate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContract(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) database.Database { return openTestStore(t) })
}

func TestOpen_BadDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz")
	require.Error(t, err)
}

func TestVerify_DetectsTamperedRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	w, err := s.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	require.NoError(t, s.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0)))

	_, err = s.pool.Exec(ctx, `UPDATE tunedb_tuning_records SET record = '[1]'`)
	require.NoError(t, err)

	problems, err := s.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.True(t, database.IsMalformedRecordError(problems[0].Err))
}
