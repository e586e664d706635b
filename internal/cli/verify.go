package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/database"
)

// ProblemView is one entry that failed verification.
type ProblemView struct {
	Kind  string `json:"kind"`
	Key   string `json:"key,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// VerifyResult holds the verify command output.
type VerifyResult struct {
	OK       bool          `json:"ok"`
	Method   string        `json:"method"` // "scan" or "decode"
	Problems []ProblemView `json:"problems"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Decode every stored entry and report corruption",
		Long: `Decode every stored workload and record, re-checking workload hashes and
replaying every trace. Backends that can scan their entries report each bad
entry; others fail on the first entry that does not decode.

Exit codes:
  0 - Every entry decodes
  1 - At least one entry is corrupt or malformed
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	result := VerifyResult{Method: "scan", Problems: []ProblemView{}}
	problems, err := s.db.Verify(s.ctx)
	switch {
	case errors.Is(err, database.ErrNotImplemented):
		result.Method = "decode"
		if _, err := s.current().GetAllTuningRecords(s.ctx); err != nil {
			if !database.IsDecodeError(err) {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to read records", err)
			}
			result.Problems = append(result.Problems, problemView(database.Problem{Kind: "record", Err: err}))
		}
	case err != nil:
		return f.Fail(ExitCommandError, ErrCodeDatabase, "verification failed", err)
	default:
		for _, p := range problems {
			result.Problems = append(result.Problems, problemView(p))
		}
	}
	result.OK = len(result.Problems) == 0

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		for _, p := range result.Problems {
			fmt.Fprintf(f.Writer, "✗ %s %s: %s\n", p.Kind, p.Key, p.Error)
		}
		if result.OK {
			fmt.Fprintln(f.Writer, "✓ All entries decode")
		}
	}
	if !result.OK {
		return NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) found", len(result.Problems)))
	}
	return nil
}

func problemView(p database.Problem) ProblemView {
	v := ProblemView{Kind: p.Kind, Key: p.Key, Error: p.Err.Error()}
	var de *database.DecodeError
	if errors.As(p.Err, &de) {
		v.Code = string(de.Code)
	}
	return v
}
