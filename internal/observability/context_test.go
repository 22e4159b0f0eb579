package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestTraceSpanContext(t *testing.T) {
	t.Run("stores and retrieves trace and span IDs", func(t *testing.T) {
		ctx := WithTraceSpan(context.Background(), "trace-abc", "span-xyz")

		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, "trace-abc", traceID)
		assert.Equal(t, "span-xyz", spanID)
	})

	t.Run("returns empty strings when not set", func(t *testing.T) {
		traceID, spanID := TraceSpanFromContext(context.Background())
		assert.Equal(t, "", traceID)
		assert.Equal(t, "", spanID)
	})
}

func TestRunAndNodeContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithNode(ctx, "HotelAgent")

	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "HotelAgent", NodeFromContext(ctx))
}

func TestRunContextFull(t *testing.T) {
	t.Run("round trips all fields", func(t *testing.T) {
		rc := RunContext{
			RequestID: "req-1",
			TraceID:   "trace-1",
			SpanID:    "span-1",
			RunID:     "run-1",
			Node:      "ReportWriter",
		}
		ctx := WithRunContextFull(context.Background(), rc)
		assert.Equal(t, rc, RunContextFromContext(ctx))
	})

	t.Run("skips empty fields", func(t *testing.T) {
		ctx := WithRunContextFull(context.Background(), RunContext{RunID: "run-2"})
		assert.Equal(t, RunContext{RunID: "run-2"}, RunContextFromContext(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRunContextFull(context.Background(), RunContext{RunID: "run-9", Node: "ParseRequest"})

	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("hello")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "run-9", logEntry["run_id"])
	assert.Equal(t, "ParseRequest", logEntry["node"])
	assert.NotContains(t, logEntry, "request_id")
}
