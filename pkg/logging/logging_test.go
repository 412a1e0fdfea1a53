package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfiguresLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"off", zerolog.Disabled},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(Config{Level: tt.level, Format: "json", Output: "discard"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestNewRejectsUnsupportedSettings(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml", Output: "discard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")

	_, err = New(Config{Level: "loud", Format: "json", Output: "discard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log level")
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Str("file", "a.gpx").Msg("prepared upload")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(body), &line))
	assert.Equal(t, "prepared upload", line["message"])
	assert.Equal(t, "a.gpx", line["file"])
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.WarnLevel)
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
