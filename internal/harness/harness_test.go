package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/boltdb"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/memory"
	"github.com/roach88/tunedb/internal/jsonfile"
	"github.com/roach88/tunedb/internal/store"
)

// backends opens a fresh database of every embedded kind.
var backends = []struct {
	name string
	open func(t *testing.T) database.Database
}{
	{"memory", func(t *testing.T) database.Database { return memory.New() }},
	{"sqlite", func(t *testing.T) database.Database {
		st, err := store.Open(filepath.Join(t.TempDir(), "tune.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}},
	{"bolt", func(t *testing.T) database.Database {
		st, err := boltdb.Open(filepath.Join(t.TempDir(), "tune.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}},
	{"json", func(t *testing.T) database.Database {
		db, err := jsonfile.Open(filepath.Join(t.TempDir(), "json"))
		require.NoError(t, err)
		return db
	}},
}

func TestScenariosOnEveryBackend(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		for _, b := range backends {
			t.Run(scenario.Name+"/"+b.name, func(t *testing.T) {
				result, err := RunWithGolden(t, context.Background(), scenario, b.open(t))
				require.NoError(t, err)
				assert.True(t, result.Pass, "errors: %v", result.Errors)
			})
		}
	}
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario := mustLoad(t, "testdata/scenarios/ranking.yaml")
	scenario.Assertions = []Assertion{
		{Type: AssertSize, Count: 4},
		{Type: AssertTopK, Workload: "mm", K: 2, Records: []string{"tied", "fast"}},
		{Type: AssertBest, Workload: "mm", Record: "slow"},
		{Type: AssertHasWorkload, Workload: "other", Expect: boolPtr(true)},
	}

	result, err := Run(context.Background(), scenario, memory.New())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "Expected: 4 record(s)")
	assert.Contains(t, result.Errors[0], "Actual: 5 record(s)")
	assert.Contains(t, result.Errors[1], "Actual: [fast tied]")
	assert.Contains(t, result.Errors[2], "Expected: record slow")
	assert.Contains(t, result.Errors[2], "Actual: record fast")
	assert.Contains(t, result.Errors[3], "has_workload (other)")
}

func TestRun_UnexpectedStepError(t *testing.T) {
	scenario := mustLoad(t, "testdata/scenarios/commit_errors.yaml")
	scenario.Flow[0].ExpectError = ""

	result, err := Run(context.Background(), scenario, memory.New())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, ExpectWorkloadNotFound, result.Events[0].Outcome)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "flow[0]: expected ok, got workload_not_found")
}

func TestRun_MissingExpectedError(t *testing.T) {
	scenario := mustLoad(t, "testdata/scenarios/commit_errors.yaml")
	scenario.Flow[4].ExpectError = ExpectScheduleError

	result, err := Run(context.Background(), scenario, memory.New())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "flow[4]: expected schedule_error, got ok")
}

func TestRun_RankingsSnapshot(t *testing.T) {
	result, err := Run(context.Background(), mustLoad(t, "testdata/scenarios/ranking.yaml"), memory.New())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, 5, result.Size)
	ranked := result.Rankings["mm"]
	require.Len(t, ranked, 4)
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Record
	}
	assert.Equal(t, []string{"fast", "tied", "middle", "slow"}, names)
	assert.Equal(t, "llvm -mcpu=skylake", ranked[0].Target)
	assert.NotContains(t, result.Rankings, "other")
}

func TestRun_BadTarget(t *testing.T) {
	scenario := mustLoad(t, "testdata/scenarios/ranking.yaml")
	scenario.Flow[1].CommitRecord.Target = "-mcpu=skylake"

	_, err := Run(context.Background(), scenario, memory.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[1]")
}

func TestIdentify_DuplicatesResolveInCommitOrder(t *testing.T) {
	scenario := mustLoad(t, "testdata/scenarios/commit_errors.yaml")
	dup := *scenario.Flow[4].CommitRecord
	dup.Name = "ok_again"
	scenario.Flow = append(scenario.Flow, FlowStep{CommitRecord: &dup})
	scenario.Assertions = []Assertion{{Type: AssertTopK, Workload: "mm", K: 2, Records: []string{"ok", "ok_again"}}}

	result, err := Run(context.Background(), scenario, memory.New())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func mustLoad(t *testing.T, path string) *Scenario {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	return s
}

func boolPtr(b bool) *bool { return &b }
