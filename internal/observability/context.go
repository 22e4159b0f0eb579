package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
	runIDKey     contextKey = "run_id"
	nodeKey      contextKey = "node"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	return stringValue(ctx, traceIDKey), stringValue(ctx, spanIDKey)
}

// WithRunID adds the identifier of the run being executed to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// WithNode adds the name of the executing workflow node to the context.
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}

// NodeFromContext retrieves the workflow node name from context.
func NodeFromContext(ctx context.Context) string {
	return stringValue(ctx, nodeKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RunContext contains the observability data attached to one run.
type RunContext struct {
	RequestID string
	TraceID   string
	SpanID    string
	RunID     string
	Node      string
}

// WithRunContextFull adds all run context to the context.
func WithRunContextFull(ctx context.Context, rc RunContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.TraceID != "" || rc.SpanID != "" {
		ctx = WithTraceSpan(ctx, rc.TraceID, rc.SpanID)
	}
	if rc.RunID != "" {
		ctx = WithRunID(ctx, rc.RunID)
	}
	if rc.Node != "" {
		ctx = WithNode(ctx, rc.Node)
	}
	return ctx
}

// RunContextFromContext extracts all run context from the context.
func RunContextFromContext(ctx context.Context) RunContext {
	traceID, spanID := TraceSpanFromContext(ctx)
	return RunContext{
		RequestID: RequestIDFromContext(ctx),
		TraceID:   traceID,
		SpanID:    spanID,
		RunID:     RunIDFromContext(ctx),
		Node:      NodeFromContext(ctx),
	}
}

// LoggerFromContext enriches logger with the run, node and request fields
// present in ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rc := RunContextFromContext(ctx)
	lc := logger.With()
	if rc.RequestID != "" {
		lc = lc.Str("request_id", rc.RequestID)
	}
	if rc.RunID != "" {
		lc = lc.Str("run_id", rc.RunID)
	}
	if rc.Node != "" {
		lc = lc.Str("node", rc.Node)
	}
	if rc.TraceID != "" {
		lc = lc.Str("trace_id", rc.TraceID)
	}
	return lc.Logger()
}
