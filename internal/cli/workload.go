package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/compiler"
	"github.com/roach88/tunedb/internal/ir"
)

// CommitResult describes one committed workload.
type CommitResult struct {
	Source string   `json:"source"`
	Hash   string   `json:"hash"`
	Funcs  []string `json:"funcs"`
	New    bool     `json:"new"`
}

// NewCommitWorkloadCommand creates the commit-workload command.
func NewCommitWorkloadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit-workload <module.cue|module.json>...",
		Short: "Compile modules and commit them as workloads",
		Long: `Compile each module and commit it as a workload. Committing a module
whose structural hash is already stored returns the stored workload.

Examples:
  tunedb commit-workload matmul.cue
  tunedb --driver sqlite --db ./tune.db commit-workload conv.cue dense.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommitWorkload(rootOpts, cmd, args)
		},
	}
}

func runCommitWorkload(opts *RootOptions, cmd *cobra.Command, paths []string) error {
	f := opts.formatter(cmd)

	mods := make([]*ir.Module, len(paths))
	for i, p := range paths {
		mod, err := compiler.LoadFile(p)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeModule, "failed to load module", err)
		}
		mods[i] = mod
	}

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()
	db := s.current()

	results := make([]CommitResult, 0, len(paths))
	for i, mod := range mods {
		had, err := db.HasWorkload(s.ctx, mod)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to look up workload", err)
		}
		w, err := db.CommitWorkload(s.ctx, mod)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to commit workload", err)
		}
		f.VerboseLog("%s -> %s", paths[i], w.Hash)
		results = append(results, CommitResult{
			Source: paths[i],
			Hash:   w.Hash.String(),
			Funcs:  funcNames(w.Mod),
			New:    !had,
		})
	}

	if f.JSON() {
		return f.Success(results)
	}
	for _, r := range results {
		state := "committed"
		if !r.New {
			state = "already stored"
		}
		fmt.Fprintf(f.Writer, "%s  %s (%s)\n", r.Hash, r.Source, state)
	}
	return nil
}

func funcNames(mod *ir.Module) []string {
	names := make([]string, len(mod.Funcs))
	for i, fn := range mod.Funcs {
		names[i] = fn.Name
	}
	return names
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Hash   string                     `json:"hash,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <module.cue|module.json>",
		Short: "Check a module without committing it",
		Long: `Compile and validate a module, reporting every problem found, and print
the structural hash it would be stored under. No database is opened.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command, path string) error {
	f := opts.formatter(cmd)

	mod, err := compiler.LoadFile(path)
	var invalid *compiler.InvalidModuleError
	switch {
	case errors.As(err, &invalid):
		if f.JSON() {
			_ = f.Success(ValidationResult{Valid: false, Errors: invalid.Errors})
		} else {
			for _, e := range invalid.Errors {
				fmt.Fprintf(f.Writer, "✗ %s\n", e.Error())
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(invalid.Errors)))
	case err != nil:
		return f.Fail(ExitCommandError, ErrCodeModule, "failed to load module", err)
	}

	h, err := ir.StructuralHash(mod)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeModule, "failed to hash module", err)
	}
	if f.JSON() {
		return f.Success(ValidationResult{Valid: true, Hash: h.String()})
	}
	fmt.Fprintf(f.Writer, "✓ %s valid (%s)\n", path, h)
	return nil
}
