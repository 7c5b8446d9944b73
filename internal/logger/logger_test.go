package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestGet_Component(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	Setup("debug", "json", &buf)

	l := Get("ingest")
	l.Warn().Int64("chunk_id", 42).Msg("chunk dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "ingest", entry["component"])
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "chunk dropped", entry["message"])
	require.InDelta(t, 42, entry["chunk_id"], 0)
}

func TestSetup_LevelFilters(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	Setup("error", "console", &buf)

	Get("dataset").Info().Msg("suppressed")
	require.Zero(t, buf.Len())

	Get("dataset").Error().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}
