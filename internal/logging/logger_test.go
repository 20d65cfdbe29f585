package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.WithRequestID("req-1").Info("relation loader flushed", "reads", 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "relation loader flushed", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, float64(2), entry["reads"])
}

func TestLoggerContext(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx).Logger, "falls back to the default logger")

	logger := NewLogger(Config{Output: &bytes.Buffer{}})
	ctx = WithLogger(ctx, logger)
	assert.Same(t, logger, FromContext(ctx))

	assert.Empty(t, GetRequestID(ctx))
	ctx = WithRequestIDContext(ctx, "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))
}

func TestTeeHandler(t *testing.T) {
	var debug, warn bytes.Buffer
	h := teeHandler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(h).With("entity", "orders")

	logger.Debug("planning")
	logger.Warn("relation read failed")

	assert.Contains(t, debug.String(), "planning")
	assert.Contains(t, debug.String(), "relation read failed")
	assert.NotContains(t, warn.String(), "planning")
	assert.Contains(t, warn.String(), "entity=orders")
}
