package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("component", "cache").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "slashauth", entry["service"])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	var buf bytes.Buffer
	log, closer, err := New(Config{Level: "info", File: path, Output: &buf})
	require.NoError(t, err)

	log.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	require.Error(t, err)
}
