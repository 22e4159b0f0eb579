package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/observability"
)

// ErrNodeTimeout marks a node attempt that did not finish within the node's
// timeout. It is never retried.
var ErrNodeTimeout = errors.New("timed out")

// guard enforces the per-node contract around a node: attempt timeouts,
// panic recovery and retries of transient failures.
type guard struct {
	spec           *nodeSpec
	defaultTimeout time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

func (g *guard) timeout() time.Duration {
	if g.spec.opts.Timeout > 0 {
		return g.spec.opts.Timeout
	}
	return g.defaultTimeout
}

// Execute runs the node until it succeeds, fails permanently, or runs out of
// retries.
func (g *guard) Execute(ctx context.Context, state View) Result {
	policy := g.spec.opts.Retry
	for attempt := 0; ; attempt++ {
		res := g.attempt(ctx, state)
		if !res.failed() || attempt >= policy.MaxRetries || ctx.Err() != nil {
			return res
		}
		category := Classify(res.Err)
		logger := observability.WithNodeContext(g.logger, g.spec.id, attempt+1)
		if category == Permanent {
			logger.Debug().Err(res.Err).Msg("permanent node failure, not retrying")
			return res
		}

		backoff := policy.backoffForAttempt(attempt)
		logger.Info().Err(res.Err).Dur("backoff", backoff).Msg("retrying node after transient failure")
		g.metrics.RecordNodeRetry(g.spec.id)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
}

// attempt runs the node once under its timeout. A node that does not return
// in time is abandoned and its eventual result discarded.
func (g *guard) attempt(ctx context.Context, state View) Result {
	timeout := g.timeout()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger := observability.LoggerFromContext(ctx, g.logger)
				logger.Error().
					Str("stack", string(debug.Stack())).
					Msgf("node panicked: %v", p)
				out <- Failed(fmt.Errorf("panic: %v", p))
			}
		}()
		out <- g.spec.node.Execute(actx, state)
	}()

	var res Result
	select {
	case res = <-out:
		if !res.failed() {
			return res
		}
		if res.Err == nil {
			res.Err = errors.New("node reported failure")
		}
	case <-actx.Done():
		res = Failed(actx.Err())
	}

	switch {
	case ctx.Err() != nil:
		return Failed(ctx.Err())
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		// Nodes that give up because their own deadline passed report a timeout.
		return Failed(fmt.Errorf("%w after %s: %w", ErrNodeTimeout, timeout, context.DeadlineExceeded))
	default:
		return res
	}
}
