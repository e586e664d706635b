package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/compiler"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/target"
)

// RecordView is the printable form of a tuning record.
type RecordView struct {
	Rank         int       `json:"rank"`
	Workload     string    `json:"workload"`
	MeanRunSecs  *float64  `json:"mean_run_secs,omitempty"`
	RunSecs      []float64 `json:"run_secs,omitempty"`
	Target       string    `json:"target,omitempty"`
	Instructions int       `json:"instructions"`
	Args         int       `json:"args"`
}

func viewRecord(rank int, rec *database.TuningRecord) RecordView {
	v := RecordView{
		Rank:         rank,
		Workload:     rec.Workload.Hash.String(),
		RunSecs:      rec.RunSecs,
		Instructions: rec.Trace.Len(),
		Args:         len(rec.ArgsInfo),
	}
	if mean, ok := rec.MeanRunSecs(); ok {
		v.MeanRunSecs = &mean
	}
	if rec.Target != nil {
		v.Target = rec.Target.String()
	}
	return v
}

func (v RecordView) meanText() string {
	if v.MeanRunSecs == nil {
		return "unmeasured"
	}
	return fmt.Sprintf("%.6gs", *v.MeanRunSecs)
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Target     string
	ShowModule bool
}

// QueryResult is the best record for a module, with the scheduled module
// when requested.
type QueryResult struct {
	Record RecordView `json:"record"`
	Module string     `json:"module,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <module.cue|module.json>",
		Short: "Show the best tuning record for a module",
		Long: `Look up the module's workload and print its fastest measured record.

Exit codes:
  0 - A record was found
  1 - The workload is unknown or has no measured record
  2 - Command error

Examples:
  tunedb query matmul.cue
  tunedb query matmul.cue --target "llvm -mcpu=skylake" --show-module`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "", "target the record is queried for")
	cmd.Flags().BoolVar(&opts.ShowModule, "show-module", false, "replay the record and print the scheduled module")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, path string) error {
	f := opts.formatter(cmd)

	mod, err := compiler.LoadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeModule, "failed to load module", err)
	}
	var tgt *target.Target
	if opts.Target != "" {
		if tgt, err = target.Parse(opts.Target); err != nil {
			return f.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid --target", err)
		}
	}

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := database.QueryTuningRecord(s.ctx, s.current(), mod, tgt)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "query failed", err)
	}
	if rec == nil {
		h, _ := ir.StructuralHash(mod)
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("no tuning record for workload %s", h), nil)
		return NewExitError(ExitFailure, "no tuning record found")
	}

	result := QueryResult{Record: viewRecord(1, rec)}
	if opts.ShowModule {
		cand, err := rec.AsMeasureCandidate()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to replay record", err)
		}
		result.Module = cand.Sch.Mod().String()
	}

	if f.JSON() {
		return f.Success(result)
	}
	r := result.Record
	fmt.Fprintf(f.Writer, "workload  %s\n", r.Workload)
	fmt.Fprintf(f.Writer, "mean      %s\n", r.meanText())
	fmt.Fprintf(f.Writer, "runs      %s\n", formatRuns(r.RunSecs))
	if r.Target != "" {
		fmt.Fprintf(f.Writer, "target    %s\n", r.Target)
	}
	fmt.Fprintf(f.Writer, "trace     %d instruction(s)\n", r.Instructions)
	if result.Module != "" {
		fmt.Fprintf(f.Writer, "\n%s", result.Module)
	}
	return nil
}

// TopKOptions holds flags for the topk command.
type TopKOptions struct {
	*RootOptions
	K int
}

// TopKResult lists the best records of one workload.
type TopKResult struct {
	Workload string       `json:"workload"`
	Records  []RecordView `json:"records"`
}

// NewTopKCommand creates the topk command.
func NewTopKCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopKOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "topk <module.cue|module.json>",
		Short: "List the fastest tuning records for a module",
		Long: `List up to k measured records of the module's workload, fastest first.
Records with equal mean run time keep commit order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopK(opts, cmd, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.K, "limit", "k", 5, "number of records to list")

	return cmd
}

func runTopK(opts *TopKOptions, cmd *cobra.Command, path string) error {
	f := opts.formatter(cmd)
	if opts.K < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("-k must not be negative, got %d", opts.K), nil)
	}

	mod, err := compiler.LoadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeModule, "failed to load module", err)
	}

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()
	db := s.current()

	has, err := db.HasWorkload(s.ctx, mod)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to look up workload", err)
	}
	if !has {
		h, _ := ir.StructuralHash(mod)
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("workload %s is not stored", h), nil)
		return NewExitError(ExitFailure, "workload not found")
	}
	w, err := db.CommitWorkload(s.ctx, mod)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load workload", err)
	}
	recs, err := db.GetTopK(s.ctx, w, opts.K)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "top-k query failed", err)
	}

	result := TopKResult{Workload: w.Hash.String(), Records: make([]RecordView, len(recs))}
	for i, rec := range recs {
		result.Records[i] = viewRecord(i+1, rec)
	}

	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "workload %s: %d record(s)\n", result.Workload, len(result.Records))
	for _, r := range result.Records {
		line := fmt.Sprintf("%3d  %-12s  runs=%s", r.Rank, r.meanText(), formatRuns(r.RunSecs))
		if r.Target != "" {
			line += "  target=" + r.Target
		}
		fmt.Fprintln(f.Writer, line)
	}
	return nil
}

func formatRuns(runs []float64) string {
	if len(runs) == 0 {
		return "-"
	}
	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = fmt.Sprintf("%.6g", r)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
