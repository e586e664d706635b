package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/tunedb/internal/backend"
	"github.com/roach88/tunedb/internal/config"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/instrument"
	"github.com/roach88/tunedb/internal/logging"
)

// session is an open database plus the ambient state a command needs.
// The database is also entered as the current database of ctx.
type session struct {
	ctx        context.Context
	cfg        *config.Config
	log        zerolog.Logger
	db         *instrument.DB
	metrics    *instrument.Metrics
	metricsOut string
}

// loadConfig reads --config and the environment, then applies the
// --driver and --db overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Driver == "" && o.Database == "" {
		return cfg, nil
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.Database != "" {
		if cfg.Database.Driver == config.DriverPostgres {
			cfg.Database.DSN = o.Database
		} else {
			cfg.Database.Path = o.Database
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openSession loads configuration, builds the logger and opens the
// instrumented backend. Failures are reported through f.
func (o *RootOptions) openSession(cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to configure logging", err)
	}
	if o.Verbose {
		log = logging.Verbose(log)
	}

	var metrics *instrument.Metrics
	if cfg.Metrics.Enabled {
		metrics = instrument.NewMetrics(cfg.Metrics.Namespace)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	inner, err := backend.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeOpenFailed, "failed to open database", err)
	}
	db := instrument.Wrap(inner, metrics, log)
	log.Debug().Str("driver", cfg.Database.Driver).Str("path", cfg.Database.Path).Msg("database opened")

	return &session{
		ctx:        database.EnterWithScope(ctx, db),
		cfg:        cfg,
		log:        log,
		db:         db,
		metrics:    metrics,
		metricsOut: o.MetricsOut,
	}, nil
}

// current returns the database entered for this command.
func (s *session) current() database.Database {
	db, ok := database.Current(s.ctx)
	if !ok {
		return s.db
	}
	return db
}

// Close leaves the database scope, closes the backend and writes metrics.
func (s *session) Close() error {
	var errs []error
	if ctx, err := database.ExitWithScope(s.ctx); err != nil {
		errs = append(errs, err)
	} else {
		s.ctx = ctx
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if s.metrics != nil && s.metricsOut != "" {
		if err := writeMetrics(s.metrics, s.metricsOut); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeMetrics writes the registry in the Prometheus text format, for the
// node exporter textfile collector.
func writeMetrics(m *instrument.Metrics, path string) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
