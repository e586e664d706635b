package backend

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/boltdb"
	"github.com/roach88/tunedb/internal/config"
	"github.com/roach88/tunedb/internal/database"
	"github.com/roach88/tunedb/internal/database/memory"
	"github.com/roach88/tunedb/internal/jsonfile"
	"github.com/roach88/tunedb/internal/store"
	"github.com/roach88/tunedb/internal/testutil"
)

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want any
	}{
		{"memory", config.DatabaseConfig{Driver: config.DriverMemory}, &memory.Database{}},
		{"json", config.DatabaseConfig{Driver: config.DriverJSON, Path: filepath.Join(dir, "json")}, &jsonfile.Database{}},
		{"sqlite", config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "nested", "tune.db")}, &store.Store{}},
		{"bolt", config.DatabaseConfig{Driver: config.DriverBolt, Path: filepath.Join(dir, "nested", "tune.bolt")}, &boltdb.Store{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db, err := Open(ctx, tt.cfg, zerolog.Nop())
			require.NoError(t, err)
			if c, ok := db.(io.Closer); ok {
				t.Cleanup(func() { c.Close() })
			}
			assert.IsType(t, tt.want, db)

			w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
			require.NoError(t, err)
			require.NoError(t, db.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0)))
			n, err := db.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestOpenFileBackendsPersist(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{config.DriverJSON, config.DriverSQLite, config.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DatabaseConfig{Driver: driver, Path: filepath.Join(t.TempDir(), "db")}
			db, err := Open(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)
			w, err := db.CommitWorkload(ctx, testutil.Matmul(16))
			require.NoError(t, err)
			require.NoError(t, db.CommitTuningRecord(ctx, testutil.Record(t, w, 0, 1.0)))
			if c, ok := db.(io.Closer); ok {
				require.NoError(t, c.Close())
			}

			again, err := Open(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)
			if c, ok := again.(io.Closer); ok {
				t.Cleanup(func() { c.Close() })
			}
			top, err := database.QueryTuningRecord(ctx, again, testutil.Matmul(16), nil)
			require.NoError(t, err)
			require.NotNil(t, top)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "redis"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown database driver "redis"`)
}

func TestOpenPostgresBadDSN(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverPostgres, DSN: "postgres://%zz"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres database")
}
