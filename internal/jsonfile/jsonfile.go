// Package jsonfile is a Database stored as two JSON-lines files in a
// directory, the layout tuning processes share on a common filesystem.
//
// database_workload.json holds one portable workload per line. Line order
// is the workload index. database_tuning_record.json holds one
// [workload_index, record] pair per line, in commit order.
//
// Every line is decoded and hash-verified when read. Commits append one
// line with a single write and then catch up with the file, so lines
// appended by other processes are picked up on the next commit, Reload or
// Watch event.
package jsonfile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// File names inside the database directory.
const (
	WorkloadFile = "database_workload.json"
	RecordFile   = "database_tuning_record.json"
)

// Database is a JSON-lines backed Database.
type Database struct {
	dir string
	log zerolog.Logger

	mu      sync.RWMutex
	lines   []*database.Workload // canonical workload for each workload line
	index   map[ir.Hash]int      // first line of each hash
	records map[ir.Hash][]*database.TuningRecord
	all     []*database.TuningRecord

	// Byte offsets of the first unread line in each file.
	workloadOff int64
	recordOff   int64
}

var (
	_ database.Database       = (*Database)(nil)
	_ database.Verifier       = (*Database)(nil)
	_ database.WorkloadLister = (*Database)(nil)
)

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger for reload and watch events.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Database) { d.log = l }
}

// Open creates dir and both files if needed and loads every line.
// Any line that fails to decode fails Open.
func Open(dir string, opts ...Option) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create %s: %w", dir, err)
	}
	for _, name := range []string{WorkloadFile, RecordFile} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("jsonfile: create %s: %w", name, err)
		}
		f.Close()
	}

	d := &Database{
		dir:     dir,
		log:     zerolog.Nop(),
		index:   make(map[ir.Hash]int),
		records: make(map[ir.Hash][]*database.TuningRecord),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.loadLocked(); err != nil {
		return nil, err
	}
	d.log.Debug().Str("dir", dir).Int("workloads", len(d.index)).Int("records", len(d.all)).Msg("json database opened")
	return d, nil
}

// Dir returns the database directory.
func (d *Database) Dir() string { return d.dir }

// Reload reads lines appended since the last read and returns how many
// records were added. On a decode error, lines before the bad one are kept
// and the next Reload retries from the bad line.
func (d *Database) Reload() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

func (d *Database) HasWorkload(_ context.Context, mod *ir.Module) (bool, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return false, fmt.Errorf("has workload: %w", err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.index[h]
	return ok, nil
}

func (d *Database) CommitWorkload(_ context.Context, mod *ir.Module) (*database.Workload, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, fmt.Errorf("commit workload: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.loadLocked(); err != nil {
		return nil, fmt.Errorf("commit workload %s: %w", h, err)
	}
	if i, ok := d.index[h]; ok {
		return d.lines[i], nil
	}

	text, err := database.EncodeWorkload(database.NewWorkloadWithHash(mod, h))
	if err != nil {
		return nil, fmt.Errorf("commit workload %s: %w", h, err)
	}
	if err := appendLine(d.path(WorkloadFile), text); err != nil {
		return nil, fmt.Errorf("commit workload %s: %w", h, err)
	}
	if _, err := d.loadLocked(); err != nil {
		return nil, fmt.Errorf("commit workload %s: %w", h, err)
	}
	i, ok := d.index[h]
	if !ok {
		return nil, fmt.Errorf("commit workload %s: appended line not found on reload", h)
	}
	return d.lines[i], nil
}

func (d *Database) CommitTuningRecord(_ context.Context, rec *database.TuningRecord) error {
	if rec == nil || rec.Workload == nil || rec.Trace == nil {
		return fmt.Errorf("commit tuning record: record must have a workload and a trace")
	}
	h := rec.Workload.Hash
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.loadLocked(); err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	i, ok := d.index[h]
	if !ok {
		return fmt.Errorf("commit tuning record for %s: %w", h, database.ErrWorkloadNotFound)
	}
	v, _, err := database.EncodeCommittedRecord(rec, d.lines[i])
	if err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	text, err := ir.MarshalValue(ir.IRArray{ir.IRInt(i), v})
	if err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	if err := appendLine(d.path(RecordFile), text); err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	if _, err := d.loadLocked(); err != nil {
		return fmt.Errorf("commit tuning record for %s: %w", h, err)
	}
	return nil
}

func (d *Database) GetTopK(_ context.Context, w *database.Workload, k int) ([]*database.TuningRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return database.RankTopK(d.records[w.Hash], k), nil
}

func (d *Database) GetAllTuningRecords(_ context.Context) ([]*database.TuningRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*database.TuningRecord, len(d.all))
	copy(out, d.all)
	return out, nil
}

func (d *Database) Size(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.all), nil
}

// Workloads returns each distinct workload in first-commit order.
func (d *Database) Workloads(_ context.Context) ([]*database.Workload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*database.Workload, 0, len(d.index))
	for i, w := range d.lines {
		if d.index[w.Hash] == i {
			out = append(out, w)
		}
	}
	return out, nil
}

// Verify re-reads both files from the start and decodes every line
// independently of the loaded state.
func (d *Database) Verify(_ context.Context) ([]database.Problem, error) {
	problems := []database.Problem{}

	wlines, _, err := readLines(d.path(WorkloadFile), 0)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	workloads := make([]*database.Workload, len(wlines))
	for i, line := range wlines {
		w, err := database.DecodeWorkload(line)
		if err != nil {
			problems = append(problems, database.Problem{Kind: "workload", Key: lineKey(WorkloadFile, i), Err: err})
			continue
		}
		workloads[i] = w
	}

	rlines, _, err := readLines(d.path(RecordFile), 0)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	for i, line := range rlines {
		if _, err := decodeRecordLine(line, workloads); err != nil {
			problems = append(problems, database.Problem{Kind: "record", Key: lineKey(RecordFile, i), Err: err})
		}
	}
	return problems, nil
}

func (d *Database) path(name string) string {
	return filepath.Join(d.dir, name)
}

// loadLocked decodes complete lines past the saved offsets. The caller
// holds d.mu for writing.
func (d *Database) loadLocked() (int, error) {
	wlines, wsizes, err := readLines(d.path(WorkloadFile), d.workloadOff)
	if err != nil {
		return 0, err
	}
	for i, line := range wlines {
		w, err := database.DecodeWorkload(line)
		if err != nil {
			d.log.Error().Err(err).Str("file", WorkloadFile).Int("line", len(d.lines)+1).Msg("workload line failed to decode")
			return 0, fmt.Errorf("%s: %w", lineKey(WorkloadFile, len(d.lines)), err)
		}
		if first, ok := d.index[w.Hash]; ok {
			w = d.lines[first]
		} else {
			d.index[w.Hash] = len(d.lines)
		}
		d.lines = append(d.lines, w)
		d.workloadOff += wsizes[i]
	}

	rlines, rsizes, err := readLines(d.path(RecordFile), d.recordOff)
	if err != nil {
		return 0, err
	}
	added := 0
	for i, line := range rlines {
		rec, err := decodeRecordLine(line, d.lines)
		if err != nil {
			d.log.Error().Err(err).Str("file", RecordFile).Int("line", len(d.all)+1).Msg("record line failed to decode")
			return added, fmt.Errorf("%s: %w", lineKey(RecordFile, len(d.all)), err)
		}
		d.records[rec.Workload.Hash] = append(d.records[rec.Workload.Hash], rec)
		d.all = append(d.all, rec)
		d.recordOff += rsizes[i]
		added++
	}
	return added, nil
}

// decodeRecordLine decodes [workload_index, record] against the workloads
// read so far. A nil entry in workloads is a line that failed to decode.
func decodeRecordLine(line []byte, workloads []*database.Workload) (*database.TuningRecord, error) {
	v, err := ir.ParseValue(line)
	if err != nil {
		return nil, database.NewDecodeError(database.ErrCodeCorruption, database.RawText(line), err, "record line is not JSON")
	}
	pair, ok := v.(ir.IRArray)
	if !ok || len(pair) != 2 {
		return nil, database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "record line: expected [workload_index, record]")
	}
	idx, ok := pair[0].(ir.IRInt)
	if !ok {
		return nil, database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "record line: workload index: expected int, got %s", ir.KindOf(pair[0]))
	}
	if idx < 0 || int(idx) >= len(workloads) || workloads[idx] == nil {
		return nil, database.NewDecodeError(database.ErrCodeCorruption, v, nil, "record line: workload index %d does not name a readable workload", idx)
	}
	return database.TuningRecordFromJSON(pair[1], workloads[idx])
}

// readLines returns the complete lines of path starting at off, without
// their newlines, and the byte size of each line including its newline.
// A trailing partial line is left for the next read. Blank lines are
// dropped and their bytes counted toward the next line.
func readLines(path string, off int64) ([][]byte, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("seek %s: %w", filepath.Base(path), err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	var lines [][]byte
	var sizes []int64
	var pending int64
	for {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimSpace(data[:nl])
		pending += int64(nl + 1)
		data = data[nl+1:]
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
		sizes = append(sizes, pending)
		pending = 0
	}
	return lines, sizes, nil
}

func appendLine(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func lineKey(file string, i int) string {
	return fmt.Sprintf("%s:%d", file, i+1)
}
