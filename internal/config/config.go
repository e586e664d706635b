// Package config loads tunedb configuration from YAML and TUNEDB_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Database drivers understood by backend.Open.
const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// DatabaseConfig selects and locates the backend.
// Path is a directory for json and a file for sqlite and bolt.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ArchiveConfig locates the S3 bucket used by export --s3 and import --s3.
// Endpoint and PathStyle are for S3-compatible stores such as MinIO.
// Without static keys the default AWS credentials chain is used.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverJSON,
			Path:   ".tunedb",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "tunedb",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "tunedb/",
		},
	}
}

// Load reads configuration from a YAML file over the defaults, then applies
// environment overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from TUNEDB_* variables. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TUNEDB_DATABASE_DRIVER":           &c.Database.Driver,
		"TUNEDB_DATABASE_PATH":             &c.Database.Path,
		"TUNEDB_DATABASE_DSN":              &c.Database.DSN,
		"TUNEDB_LOG_LEVEL":                 &c.Log.Level,
		"TUNEDB_LOG_FORMAT":                &c.Log.Format,
		"TUNEDB_METRICS_NAMESPACE":         &c.Metrics.Namespace,
		"TUNEDB_ARCHIVE_BUCKET":            &c.Archive.Bucket,
		"TUNEDB_ARCHIVE_REGION":            &c.Archive.Region,
		"TUNEDB_ARCHIVE_ENDPOINT":          &c.Archive.Endpoint,
		"TUNEDB_ARCHIVE_PREFIX":            &c.Archive.Prefix,
		"TUNEDB_ARCHIVE_ACCESS_KEY_ID":     &c.Archive.AccessKeyID,
		"TUNEDB_ARCHIVE_SECRET_ACCESS_KEY": &c.Archive.SecretAccessKey,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"TUNEDB_METRICS_ENABLED":    &c.Metrics.Enabled,
		"TUNEDB_ARCHIVE_PATH_STYLE": &c.Archive.PathStyle,
	}
	for name, dst := range bools {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverJSON, DriverSQLite, DriverBolt:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, json, sqlite, bolt, postgres, got %q", c.Database.Driver)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics are enabled")
	}
	if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
		return fmt.Errorf("archive.access_key_id and archive.secret_access_key must be set together")
	}
	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.endpoint is set")
	}
	return nil
}
