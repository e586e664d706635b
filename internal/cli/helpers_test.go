package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/store"
	"github.com/roach88/tunedb/internal/testutil"
)

// matmulCUE defines the same module as testutil.Matmul(16).
const matmulCUE = `module: funcs: main: {
	params: [for n in ["A", "B", "C"] {name: n, dtype: "float32", shape: [16, 16]}]
	blocks: [{name: "C", loops: [for v in ["i", "j", "k"] {var: v, extent: 16}]}]
}
`

// runCLI executes the root command with args and returns stdout, stderr
// and the command error.
func runCLI(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	if opts == nil {
		opts = &RootOptions{}
	}
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// decodeData unmarshals the data payload of a JSON CLIResponse.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedSQLite creates a SQLite database holding Matmul(16) with three
// measured records (means 3, 1, 2) and one unmeasured record, with ids
// rec-000001 through rec-000004 in commit order.
func seedSQLite(t *testing.T) (dbPath, modPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "tune.db")
	modPath = writeFile(t, dir, "matmul.cue", matmulCUE)

	ctx := context.Background()
	st, err := store.Open(dbPath, store.WithIDGenerator(testutil.NewSequentialIDs()))
	require.NoError(t, err)
	w, err := st.CommitWorkload(ctx, testutil.Matmul(16))
	require.NoError(t, err)
	for _, rec := range []*database.TuningRecord{
		testutil.Record(t, w, 0, 3.0),
		testutil.Record(t, w, 1, 0.5, 1.5),
		testutil.Record(t, w, 2, 2.0),
		testutil.Record(t, w, 3),
	} {
		require.NoError(t, st.CommitTuningRecord(ctx, rec))
	}
	require.NoError(t, st.Close())
	return dbPath, modPath
}
