// Package backend opens the Database named by configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/roach88/tunedb/internal/boltdb"
	"github.com/roach88/tunedb/internal/config"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/memory"
	"github.com/roach88/tunedb/internal/jsonfile"
	"github.com/roach88/tunedb/internal/pgstore"
	"github.com/roach88/tunedb/internal/store"
)

// Open returns the backend selected by cfg.Driver. Backends holding a file
// or connection also implement io.Closer; the caller closes them.
// Parent directories of file backends are created as needed.
func Open(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (database.Database, error) {
	log = log.With().Str("driver", cfg.Driver).Logger()

	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverJSON:
		db, err := jsonfile.Open(cfg.Path, jsonfile.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open json database %s: %w", cfg.Path, err)
		}
		return db, nil

	case config.DriverSQLite:
		if err := ensureParent(cfg.Path); err != nil {
			return nil, err
		}
		db, err := store.Open(cfg.Path, store.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database %s: %w", cfg.Path, err)
		}
		return db, nil

	case config.DriverBolt:
		if err := ensureParent(cfg.Path); err != nil {
			return nil, err
		}
		db, err := boltdb.Open(cfg.Path, boltdb.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open bolt database %s: %w", cfg.Path, err)
		}
		return db, nil

	case config.DriverPostgres:
		db, err := pgstore.Open(ctx, cfg.DSN, pgstore.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
