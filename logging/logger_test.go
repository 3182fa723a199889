package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilievs/edgesim/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestJSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "edgesim-device", "1.2.3")

	logger.Info("registered", "sys_id", "dev-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "edgesim-device", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "dev-1", entry["sys_id"])
	assert.Equal(t, "registered", entry["msg"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "svc", "dev")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
