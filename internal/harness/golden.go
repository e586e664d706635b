package harness

import (
	"context"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// Snapshot renders the backend-independent part of a result as portable
// JSON: events, final size and rankings. Object keys are sorted, so equal
// results always produce identical bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	events := make(ir.IRArray, len(result.Events))
	for i, ev := range result.Events {
		events[i] = ir.IRObject{
			"step":    ir.IRInt(int64(ev.Step)),
			"op":      ir.IRString(ev.Op),
			"subject": ir.IRString(ev.Subject),
			"outcome": ir.IRString(ev.Outcome),
		}
	}

	modules := make([]string, 0, len(result.Rankings))
	for m := range result.Rankings {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	rankings := make(ir.IRObject, len(modules))
	for _, m := range modules {
		ranked := make(ir.IRArray, len(result.Rankings[m]))
		for i, r := range result.Rankings[m] {
			entry := ir.IRObject{"record": ir.IRString(r.Record)}
			if r.MeanRunSecs != nil {
				entry["mean_run_secs"] = ir.IRFloat(*r.MeanRunSecs)
			}
			if r.Target != "" {
				entry["target"] = ir.IRString(r.Target)
			}
			ranked[i] = entry
		}
		rankings[m] = ranked
	}

	return ir.MarshalValue(ir.IRObject{
		"scenario": ir.IRString(name),
		"events":   events,
		"size":     ir.IRInt(int64(result.Size)),
		"rankings": rankings,
	})
}

// RunWithGolden executes a scenario against db and compares its snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Because the snapshot never includes storage keys, one golden file serves
// every backend.
func RunWithGolden(t *testing.T, ctx context.Context, scenario *Scenario, db database.Database) (*Result, error) {
	t.Helper()

	result, err := Run(ctx, scenario, db)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
