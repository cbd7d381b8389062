package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("checker", &buf, "warn", "")

	log.Info("hidden")
	log.Warn("shown", slog.String("stage", "fetch"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "service=checker")
	require.Contains(t, out, "stage=fetch")
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("worker", &buf, "info", "JSON").Info("indexed filing", slog.String("accession", "0000012345-24-000123"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "worker", line["service"])
	require.Equal(t, "0000012345-24-000123", line["accession"])
}
