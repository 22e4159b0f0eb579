package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/observability"
)

// instrumentedClient records metrics and debug logs around every call.
type instrumentedClient struct {
	next    Client
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Instrument wraps c so that every completion is recorded in metrics and
// logged. A nil metrics value disables recording.
func Instrument(c Client, metrics *observability.Metrics, logger zerolog.Logger) Client {
	return &instrumentedClient{
		next:    c,
		metrics: metrics,
		logger:  logger.With().Str("component", "llm").Str("provider", c.Provider()).Logger(),
	}
}

func (c *instrumentedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	op := req.Operation
	if op == "" {
		op = "complete"
	}
	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMRequestFailed(op, c.next.Model(), errorType(err))
		c.logger.Warn().Err(err).Str("operation", op).Dur("duration", elapsed).Msg("llm request failed")
		return nil, err
	}

	c.metrics.RecordLLMRequest(op, resp.Model, elapsed.Seconds(), resp.InputTokens, resp.OutputTokens)
	c.logger.Debug().
		Str("operation", op).
		Str("model", resp.Model).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Dur("duration", elapsed).
		Msg("llm request completed")
	return resp, nil
}

func (c *instrumentedClient) Provider() string { return c.next.Provider() }

func (c *instrumentedClient) Model() string { return c.next.Model() }
