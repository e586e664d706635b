package cli

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/compiler"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/store"
	"github.com/roach88/tunedb/internal/testutil"
)

func TestCommitWorkload(t *testing.T) {
	dir := t.TempDir()
	mod := writeFile(t, dir, "matmul.cue", matmulCUE)
	db := filepath.Join(dir, "db")
	want := ir.MustStructuralHash(testutil.Matmul(16)).String()

	out, _, err := runCLI(t, nil, "--driver", "json", "--db", db, "commit-workload", mod)
	require.NoError(t, err)
	assert.Contains(t, out, want)
	assert.Contains(t, out, "(committed)")

	out, _, err = runCLI(t, nil, "--driver", "json", "--db", db, "--format", "json", "commit-workload", mod)
	require.NoError(t, err)
	var results []CommitResult
	decodeData(t, out, &results)
	require.Len(t, results, 1)
	assert.Equal(t, want, results[0].Hash)
	assert.False(t, results[0].New)
	assert.Equal(t, []string{"main"}, results[0].Funcs)
}

func TestCommitWorkloadBadModule(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.cue", `module: funcs: main: {
		params: [{name: "A", dtype: "float32", shape: [4]}]
		blocks: [{name: "C", loops: [{var: "i", extent: 0}]}]
	}`)

	out, _, err := runCLI(t, nil, "--driver", "memory", "commit-workload", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, compiler.ErrNonPositiveExtent)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "matmul.cue", matmulCUE)
	bad := writeFile(t, dir, "bad.cue", `module: funcs: main: {
		params: [{name: "A", dtype: "float32", shape: [4]}, {name: "A", dtype: "float32", shape: [4]}]
		blocks: [{name: "C", loops: [{var: "i", extent: 4, kind: "spiral"}]}]
	}`)

	out, _, err := runCLI(t, nil, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, ir.MustStructuralHash(testutil.Matmul(16)).String())

	out, _, err = runCLI(t, nil, "--format", "json", "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var result ValidationResult
	decodeData(t, out, &result)
	assert.False(t, result.Valid)
	codes := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{compiler.ErrDuplicateName, compiler.ErrUnknownLoopKind}, codes)
}

func TestQuery(t *testing.T) {
	db, mod := seedSQLite(t)

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "query", mod, "--target", testutil.DefaultTarget)
	require.NoError(t, err)
	assert.Contains(t, out, "mean      1s")
	assert.Contains(t, out, "runs      [0.5 1.5]")
	assert.Contains(t, out, "llvm")

	out, _, err = runCLI(t, nil, "--driver", "sqlite", "--db", db, "--format", "json", "query", mod, "--show-module")
	require.NoError(t, err)
	var result QueryResult
	decodeData(t, out, &result)
	require.NotNil(t, result.Record.MeanRunSecs)
	assert.InDelta(t, 1.0, *result.Record.MeanRunSecs, 1e-12)
	assert.Equal(t, []float64{0.5, 1.5}, result.Record.RunSecs)
	assert.Equal(t, 3, result.Record.Args)
	assert.Contains(t, result.Module, "block C")
	assert.Contains(t, result.Module, "(parallel)")
}

func TestQueryUnknownWorkload(t *testing.T) {
	db, _ := seedSQLite(t)
	other := writeFile(t, t.TempDir(), "other.cue", strings.ReplaceAll(matmulCUE, "16", "32"))

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "query", other)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")
}

func TestQueryBadTarget(t *testing.T) {
	db, mod := seedSQLite(t)
	_, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "query", mod, "--target", "-mcpu=skylake")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTopK(t *testing.T) {
	db, mod := seedSQLite(t)

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "--format", "json", "topk", mod, "-k", "2")
	require.NoError(t, err)
	var result TopKResult
	decodeData(t, out, &result)
	require.Len(t, result.Records, 2)
	assert.InDelta(t, 1.0, *result.Records[0].MeanRunSecs, 1e-12)
	assert.InDelta(t, 2.0, *result.Records[1].MeanRunSecs, 1e-12)
	assert.Equal(t, 2, result.Records[1].Rank)

	out, _, err = runCLI(t, nil, "--driver", "sqlite", "--db", db, "topk", mod, "-k", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "3 record(s)", "unmeasured records are not ranked")

	_, _, err = runCLI(t, nil, "--driver", "sqlite", "--db", db, "topk", mod, "-k", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStats(t *testing.T) {
	db, _ := seedSQLite(t)

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "--format", "json", "stats")
	require.NoError(t, err)
	var result StatsResult
	decodeData(t, out, &result)
	assert.Equal(t, "sqlite", result.Driver)
	assert.Equal(t, 4, result.Records)
	require.Len(t, result.Workloads, 1)
	ws := result.Workloads[0]
	assert.Equal(t, 4, ws.Records)
	assert.Equal(t, 3, ws.Measured)
	require.NotNil(t, ws.BestRunSecs)
	assert.InDelta(t, 1.0, *ws.BestRunSecs, 1e-12)
}

func TestVerify(t *testing.T) {
	db, _ := seedSQLite(t)

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "All entries decode")

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE tuning_records SET record = '[1,2]' WHERE seq = 2`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err = runCLI(t, nil, "--driver", "sqlite", "--db", db, "--format", "json", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var result VerifyResult
	decodeData(t, out, &result)
	assert.False(t, result.OK)
	assert.Equal(t, "scan", result.Method)
	require.Len(t, result.Problems, 1)
	assert.Equal(t, "record", result.Problems[0].Kind)
	assert.Equal(t, "rec-000002", result.Problems[0].Key)
	assert.Equal(t, "MALFORMED_RECORD", result.Problems[0].Code)
}

func TestVerifyWithoutBackendScan(t *testing.T) {
	out, _, err := runCLI(t, nil, "--driver", "memory", "--format", "json", "verify")
	require.NoError(t, err)
	var result VerifyResult
	decodeData(t, out, &result)
	assert.True(t, result.OK)
	assert.Equal(t, "decode", result.Method)
}

func TestExportImportFile(t *testing.T) {
	db, mod := seedSQLite(t)
	dir := t.TempDir()
	dump := filepath.Join(dir, "dump.jsonl")
	bolt := filepath.Join(dir, "copy.bolt")

	out, _, err := runCLI(t, nil, "--driver", "sqlite", "--db", db, "export", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 workload(s), 4 record(s)")
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, 5, bytes.Count(data, []byte("\n")))

	out, _, err = runCLI(t, nil, "--driver", "bolt", "--db", bolt, "--format", "json", "import", dump)
	require.NoError(t, err)
	var result ArchiveResult
	decodeData(t, out, &result)
	assert.Equal(t, 1, result.Workloads)
	assert.Equal(t, 4, result.Records)

	out, _, err = runCLI(t, nil, "--driver", "bolt", "--db", bolt, "query", mod)
	require.NoError(t, err)
	assert.Contains(t, out, "mean      1s")
}

func TestExportRequiresOneTarget(t *testing.T) {
	_, _, err := runCLI(t, nil, "--driver", "memory", "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a file or --s3 is required")

	_, _, err = runCLI(t, nil, "--driver", "memory", "export", "x.jsonl", "--s3", "x.jsonl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestImportDamagedDump(t *testing.T) {
	dir := t.TempDir()
	dump := writeFile(t, dir, "dump.jsonl", `["workload",["00","AA=="]]`+"\n")
	out, _, err := runCLI(t, nil, "--driver", "memory", "import", dump)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E007]")
	assert.Contains(t, out, "archive line 1")
}

// memS3 serves path-style PutObject and GetObject from memory.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.TrimPrefix(req.URL.Path, "/")
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := unchunk(body); ok {
			body = dec
		}
		m.objects[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		if body, ok := m.objects[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
				"Content-Length": {strconv.Itoa(len(body))},
			}}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

// unchunk strips single-chunk aws-chunked framing from an upload body.
func unchunk(b []byte) ([]byte, bool) {
	parts := strings.SplitN(string(b), "\r\n", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != n {
		return nil, false
	}
	return []byte(parts[1]), true
}

func TestExportImportS3(t *testing.T) {
	db, _ := seedSQLite(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "tunedb.yaml", `
log:
  level: warn
archive:
  bucket: dumps
  endpoint: https://mock.s3.local
  prefix: nightly/
  path_style: true
  access_key_id: AKIA
  secret_access_key: SECRET
`)
	fake := &memS3{objects: make(map[string][]byte)}
	opts := func() *RootOptions {
		return &RootOptions{s3Options: []func(*s3.Options){func(o *s3.Options) {
			o.HTTPClient = &http.Client{Transport: fake}
		}}}
	}

	out, _, err := runCLI(t, opts(), "--config", cfg, "--driver", "sqlite", "--db", db, "export", "--s3", "tune.jsonl")
	require.NoError(t, err)
	assert.Contains(t, out, "s3://dumps/nightly/tune.jsonl")
	assert.Contains(t, fake.objects, "dumps/nightly/tune.jsonl")

	out, _, err = runCLI(t, opts(), "--config", cfg, "--driver", "memory", "--format", "json", "import", "--s3", "tune.jsonl")
	require.NoError(t, err)
	var result ArchiveResult
	decodeData(t, out, &result)
	assert.Equal(t, 4, result.Records)
}

func TestMetricsOut(t *testing.T) {
	db, mod := seedSQLite(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "tunedb.yaml", "metrics:\n  enabled: true\n  namespace: tunedb_test\n")
	metrics := filepath.Join(dir, "tunedb.prom")

	_, _, err := runCLI(t, nil, "--config", cfg, "--driver", "sqlite", "--db", db, "--metrics-out", metrics, "query", mod)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `tunedb_test_operations_total{op="get_top_k",status="ok"} 1`)
	assert.Contains(t, text, "tunedb_test_topk_returned_records_bucket")
}

func TestConfigErrors(t *testing.T) {
	_, _, err := runCLI(t, nil, "--driver", "sqlite", "stats")
	require.Error(t, err, "sqlite without a path")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")

	_, _, err = runCLI(t, nil, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
