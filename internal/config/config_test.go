package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverJSON, cfg.Database.Driver)
	assert.Equal(t, ".tunedb", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"memory needs no path", func(c *Config) {
			c.Database.Driver = DriverMemory
			c.Database.Path = ""
		}, false},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.Path = ""
		}, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = "postgres://localhost/tunedb"
		}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "redis" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"metrics without namespace", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Namespace = ""
		}, true},
		{"endpoint without bucket", func(c *Config) { c.Archive.Endpoint = "http://localhost:9000" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunedb.yaml")
	yaml := `
database:
  driver: sqlite
  path: /var/lib/tunedb/tune.db
log:
  level: debug
archive:
  bucket: tuning-archive
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/var/lib/tunedb/tune.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format, "unset fields keep defaults")
	assert.Equal(t, "tuning-archive", cfg.Archive.Bucket)
	assert.Equal(t, "us-east-1", cfg.Archive.Region)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("database: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("database:\n  driver: redis\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	t.Setenv("TUNEDB_LOG_LEVEL", "warn")
	t.Setenv("TUNEDB_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TUNEDB_DATABASE_DRIVER":    "bolt",
		"TUNEDB_DATABASE_PATH":      "/tmp/tune.bolt",
		"TUNEDB_ARCHIVE_PATH_STYLE": "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, DriverBolt, cfg.Database.Driver)
	assert.Equal(t, "/tmp/tune.bolt", cfg.Database.Path)
	assert.True(t, cfg.Archive.PathStyle)

	env["TUNEDB_METRICS_ENABLED"] = "sometimes"
	assert.ErrorContains(t, cfg.ApplyEnv(lookup), "TUNEDB_METRICS_ENABLED")
}

func TestValidate_ArchiveKeysTogether(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.AccessKeyID = "AKIA"
	assert.Error(t, cfg.Validate())
	cfg.Archive.SecretAccessKey = "secret"
	assert.NoError(t, cfg.Validate())
}
