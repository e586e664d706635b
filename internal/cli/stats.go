package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
)

// WorkloadStats summarizes the records of one workload.
type WorkloadStats struct {
	Hash        string   `json:"hash"`
	Funcs       []string `json:"funcs"`
	Records     int      `json:"records"`
	Measured    int      `json:"measured"`
	BestRunSecs *float64 `json:"best_mean_run_secs,omitempty"`
}

// StatsResult holds the stats command output.
type StatsResult struct {
	Driver    string          `json:"driver"`
	Records   int             `json:"records"`
	Workloads []WorkloadStats `json:"workloads"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored workloads and records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()
	db := s.current()

	size, err := db.Size(s.ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to count records", err)
	}
	recs, err := db.GetAllTuningRecords(s.ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to read records", err)
	}
	workloads, err := listWorkloads(s.ctx, db, recs)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to list workloads", err)
	}

	byHash := make(map[ir.Hash]*WorkloadStats, len(workloads))
	result := StatsResult{Driver: s.cfg.Database.Driver, Records: size, Workloads: make([]WorkloadStats, len(workloads))}
	for i, w := range workloads {
		result.Workloads[i] = WorkloadStats{Hash: w.Hash.String(), Funcs: funcNames(w.Mod)}
		byHash[w.Hash] = &result.Workloads[i]
	}
	for _, rec := range recs {
		ws := byHash[rec.Workload.Hash]
		ws.Records++
		mean, ok := rec.MeanRunSecs()
		if !ok {
			continue
		}
		ws.Measured++
		if ws.BestRunSecs == nil || mean < *ws.BestRunSecs {
			ws.BestRunSecs = &mean
		}
	}

	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s database: %d workload(s), %d record(s)\n", result.Driver, len(result.Workloads), result.Records)
	for _, ws := range result.Workloads {
		best := "-"
		if ws.BestRunSecs != nil {
			best = fmt.Sprintf("%.6gs", *ws.BestRunSecs)
		}
		fmt.Fprintf(f.Writer, "  %s  records=%d measured=%d best=%s funcs=%v\n",
			ws.Hash, ws.Records, ws.Measured, best, ws.Funcs)
	}
	return nil
}

// listWorkloads returns every stored workload when the backend can list
// them, otherwise the workloads referenced by recs in first-seen order.
func listWorkloads(ctx context.Context, db database.Database, recs []*database.TuningRecord) ([]*database.Workload, error) {
	var out []*database.Workload
	if l, ok := db.(database.WorkloadLister); ok {
		ws, err := l.Workloads(ctx)
		switch {
		case err == nil:
			out = ws
		case !errors.Is(err, database.ErrNotImplemented):
			return nil, err
		}
	}
	seen := make(map[ir.Hash]bool, len(out))
	for _, w := range out {
		seen[w.Hash] = true
	}
	for _, rec := range recs {
		if !seen[rec.Workload.Hash] {
			seen[rec.Workload.Hash] = true
			out = append(out, rec.Workload)
		}
	}
	return out, nil
}
