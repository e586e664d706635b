package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("workload", "abc").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"workload":"abc"`)
	assert.Contains(t, out, `"time":`)
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Level: "INFO", Format: "console"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("committed")
	assert.Contains(t, buf.String(), "committed")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestVerbose(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Level: "error", Format: "json"}, &buf)
	require.NoError(t, err)

	verbose := Verbose(log)
	verbose.Debug().Msg("details")
	assert.Contains(t, buf.String(), "details")
}
