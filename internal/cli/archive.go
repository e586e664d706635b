package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/archive"
)

// ArchiveOptions holds flags for export and import.
type ArchiveOptions struct {
	*RootOptions
	S3Name string // dump name under archive.prefix in archive.bucket
}

// ArchiveResult reports what a dump moved and where.
type ArchiveResult struct {
	archive.Summary
	Location string `json:"location"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Dump the database as JSON lines",
		Long: `Write every workload and record as a JSON-lines dump, to a file or, with
--s3, to an object in the configured archive bucket.

Examples:
  tunedb export ./tune.jsonl
  tunedb --config tunedb.yaml export --s3 nightly.jsonl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.S3Name, "s3", "", "upload the dump under this name instead of writing a file")

	return cmd
}

func runExport(opts *ArchiveOptions, cmd *cobra.Command, args []string) error {
	f := opts.formatter(cmd)
	if err := opts.checkTarget(args); err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error(), nil)
	}

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	var buf bytes.Buffer
	sum, err := archive.Write(s.ctx, s.current(), &buf)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeArchive, "failed to write dump", err)
	}

	result := ArchiveResult{Summary: sum}
	if opts.S3Name != "" {
		bucket, err := archive.NewS3(s.ctx, s.cfg.Archive, opts.s3Options...)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "failed to configure s3", err)
		}
		if err := bucket.Upload(s.ctx, opts.S3Name, buf.Bytes()); err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "upload failed", err)
		}
		result.Location = fmt.Sprintf("s3://%s/%s", s.cfg.Archive.Bucket, bucket.Key(opts.S3Name))
	} else {
		if err := writeFileAtomic(args[0], buf.Bytes()); err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "failed to write dump", err)
		}
		result.Location = args[0]
	}
	s.log.Info().Int("workloads", sum.Workloads).Int("records", sum.Records).Str("location", result.Location).Msg("exported")

	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "exported %d workload(s), %d record(s) to %s\n", sum.Workloads, sum.Records, result.Location)
	return nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a JSON-lines dump into the database",
		Long: `Commit every workload and record of a dump made by export. Workloads
already stored are kept; records are appended. Every entry is re-verified
while loading, so a damaged dump stops at the first bad line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.S3Name, "s3", "", "download the dump with this name instead of reading a file")

	return cmd
}

func runImport(opts *ArchiveOptions, cmd *cobra.Command, args []string) error {
	f := opts.formatter(cmd)
	if err := opts.checkTarget(args); err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error(), nil)
	}

	s, err := opts.openSession(cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		r        io.Reader
		location string
	)
	if opts.S3Name != "" {
		bucket, err := archive.NewS3(s.ctx, s.cfg.Archive, opts.s3Options...)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "failed to configure s3", err)
		}
		data, err := bucket.Download(s.ctx, opts.S3Name)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "download failed", err)
		}
		r = bytes.NewReader(data)
		location = fmt.Sprintf("s3://%s/%s", s.cfg.Archive.Bucket, bucket.Key(opts.S3Name))
	} else {
		file, err := os.Open(filepath.Clean(args[0]))
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeArchive, "failed to open dump", err)
		}
		defer file.Close()
		r = file
		location = args[0]
	}

	sum, err := archive.Read(s.ctx, r, s.current())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeArchive, fmt.Sprintf("import stopped after %d workload(s), %d record(s)", sum.Workloads, sum.Records), err)
	}
	s.log.Info().Int("workloads", sum.Workloads).Int("records", sum.Records).Str("location", location).Msg("imported")

	result := ArchiveResult{Summary: sum, Location: location}
	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "imported %d workload(s), %d record(s) from %s\n", sum.Workloads, sum.Records, location)
	return nil
}

// checkTarget requires exactly one of a file argument and --s3.
func (o *ArchiveOptions) checkTarget(args []string) error {
	switch {
	case o.S3Name != "" && len(args) > 0:
		return fmt.Errorf("give a file or --s3, not both")
	case o.S3Name == "" && len(args) == 0:
		return fmt.Errorf("a file or --s3 is required")
	}
	return nil
}

// writeFileAtomic replaces path with data via a rename in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dump-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
