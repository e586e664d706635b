// Package logging builds the zerolog logger shared by the CLI and backends.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/tunedb/internal/config"
)

// New returns a logger writing to w at the configured level. The console
// format is for terminals; json is for log collectors.
func New(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Verbose lowers l to debug, for the CLI --verbose flag.
func Verbose(l zerolog.Logger) zerolog.Logger {
	return l.Level(zerolog.DebugLevel)
}
