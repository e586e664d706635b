// Package archive moves a database between backends and machines as a
// JSON-lines dump.
//
// Each line is a tagged portable value:
//
//	["workload", [hash, base64(module)]]
//	["record", hash, [trace, run_secs, target, args_info]]
//
// Every workload line precedes the records that name its hash. Records
// appear in the source database's commit order.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// Line tags.
const (
	TagWorkload = "workload"
	TagRecord   = "record"
)

// maxLine bounds a single dump line. Traces of real searches stay far below it.
const maxLine = 64 << 20

// Summary counts what a Write or Read moved.
type Summary struct {
	Workloads int `json:"workloads"`
	Records   int `json:"records"`
}

// Write dumps every workload and record of db to w. Workloads come from
// db's WorkloadLister when it has one, so workloads without records are
// kept; otherwise they are derived from the records.
func Write(ctx context.Context, db database.Database, w io.Writer) (Summary, error) {
	var sum Summary
	recs, err := db.GetAllTuningRecords(ctx)
	if err != nil {
		return sum, fmt.Errorf("archive: read records: %w", err)
	}

	var workloads []*database.Workload
	if l, ok := db.(database.WorkloadLister); ok {
		workloads, err = l.Workloads(ctx)
		if errors.Is(err, database.ErrNotImplemented) {
			workloads, err = nil, nil
		}
		if err != nil {
			return sum, fmt.Errorf("archive: read workloads: %w", err)
		}
	}
	seen := make(map[ir.Hash]bool)
	for _, wl := range workloads {
		seen[wl.Hash] = true
	}
	for _, r := range recs {
		if !seen[r.Workload.Hash] {
			seen[r.Workload.Hash] = true
			workloads = append(workloads, r.Workload)
		}
	}

	bw := bufio.NewWriter(w)
	for _, wl := range workloads {
		v, err := wl.AsJSON()
		if err != nil {
			return sum, fmt.Errorf("archive: %w", err)
		}
		if err := writeLine(bw, ir.IRArray{ir.IRString(TagWorkload), v}); err != nil {
			return sum, err
		}
		sum.Workloads++
	}
	for _, r := range recs {
		v, err := r.AsJSON()
		if err != nil {
			return sum, fmt.Errorf("archive: %w", err)
		}
		if err := writeLine(bw, ir.IRArray{ir.IRString(TagRecord), ir.IRString(r.Workload.Hash.String()), v}); err != nil {
			return sum, err
		}
		sum.Records++
	}
	if err := bw.Flush(); err != nil {
		return sum, fmt.Errorf("archive: flush: %w", err)
	}
	return sum, nil
}

func writeLine(w *bufio.Writer, v ir.IRValue) error {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Errorf("archive: encode line: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return w.WriteByte('\n')
}

// Read commits every line of r into db. Workloads are re-hashed and records
// re-replayed on decode, so a damaged dump fails with a DecodeError naming
// the line. Lines committed before the failure stay committed.
func Read(ctx context.Context, r io.Reader, db database.Database) (Summary, error) {
	var sum Summary
	workloads := make(map[string]*database.Workload)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		v, err := ir.ParseValue(sc.Bytes())
		if err != nil {
			return sum, fmt.Errorf("archive line %d: %w", line,
				database.NewDecodeError(database.ErrCodeCorruption, database.RawText(sc.Bytes()), err, "not JSON"))
		}
		arr, ok := v.(ir.IRArray)
		if !ok || len(arr) == 0 {
			return sum, fmt.Errorf("archive line %d: %w", line,
				database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "expected tagged array"))
		}

		switch arr[0] {
		case ir.IRString(TagWorkload):
			if len(arr) != 2 {
				return sum, fmt.Errorf("archive line %d: %w", line,
					database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "workload line: expected 2 elements, got %d", len(arr)))
			}
			decoded, err := database.WorkloadFromJSON(arr[1])
			if err != nil {
				return sum, fmt.Errorf("archive line %d: %w", line, err)
			}
			stored, err := db.CommitWorkload(ctx, decoded.Mod)
			if err != nil {
				return sum, fmt.Errorf("archive line %d: %w", line, err)
			}
			workloads[stored.Hash.String()] = stored
			sum.Workloads++

		case ir.IRString(TagRecord):
			if len(arr) != 3 {
				return sum, fmt.Errorf("archive line %d: %w", line,
					database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "record line: expected 3 elements, got %d", len(arr)))
			}
			hash, ok := arr[1].(ir.IRString)
			if !ok {
				return sum, fmt.Errorf("archive line %d: %w", line,
					database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "record line: hash: expected string, got %s", ir.KindOf(arr[1])))
			}
			wl, ok := workloads[string(hash)]
			if !ok {
				return sum, fmt.Errorf("archive line %d: record for %s precedes its workload: %w", line, hash, database.ErrWorkloadNotFound)
			}
			rec, err := database.TuningRecordFromJSON(arr[2], wl)
			if err != nil {
				return sum, fmt.Errorf("archive line %d: %w", line, err)
			}
			if err := db.CommitTuningRecord(ctx, rec); err != nil {
				return sum, fmt.Errorf("archive line %d: %w", line, err)
			}
			sum.Records++

		default:
			return sum, fmt.Errorf("archive line %d: %w", line,
				database.NewDecodeError(database.ErrCodeMalformedRecord, v, nil, "unknown tag %s", describeTag(arr[0])))
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("archive: read: %w", err)
	}
	return sum, nil
}

func describeTag(v ir.IRValue) string {
	if s, ok := v.(ir.IRString); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return ir.KindOf(v)
}
