package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

// EventSink receives node progress. Implementations must tolerate
// at-least-once delivery.
type EventSink interface {
	AppendEvent(ctx context.Context, runID uuid.UUID, ev domain.NodeEvent) error
	SetNodeProgress(ctx context.Context, runID uuid.UUID, node string, ev domain.NodeEvent) error
}

// Instrumenter wraps node invocations with start, end and error events.
type Instrumenter struct {
	runID   uuid.UUID
	sink    EventSink
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewInstrumenter creates an Instrumenter for one run. sink and metrics may be nil.
func NewInstrumenter(runID uuid.UUID, sink EventSink, logger zerolog.Logger, metrics *observability.Metrics) *Instrumenter {
	return &Instrumenter{
		runID:   runID,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Wrap returns a Node that reports the invocations of node under id.
func (in *Instrumenter) Wrap(id string, node Node) Node {
	return NodeFunc(func(ctx context.Context, state View) Result {
		started := in.now()
		in.emit(ctx, in.event(id, domain.NodePhaseStart, "", started))

		res := node.Execute(ctx, state)
		elapsed := in.now().Sub(started)

		if res.failed() {
			err := res.Err
			if err == nil {
				err = errors.New("node reported failure")
			}
			ev := in.event(id, domain.NodePhaseError, res.Message, in.now()).WithDuration(elapsed)
			ev.Status = domain.NodeStatusFailed
			ev.Error = err.Error()
			in.emit(ctx, ev)
			in.metrics.RecordNodeExecution(id, string(domain.NodeStatusFailed), elapsed.Seconds())
			return res
		}

		status := res.Status
		if status == "" {
			status = domain.NodeStatusCompleted
		}
		ev := in.event(id, domain.NodePhaseEnd, res.Message, in.now()).WithDuration(elapsed)
		ev.Status = status
		in.emit(ctx, ev)
		in.metrics.RecordNodeExecution(id, string(status), elapsed.Seconds())
		return res
	})
}

func (in *Instrumenter) event(node string, phase domain.NodePhase, msg string, at time.Time) domain.NodeEvent {
	return domain.NodeEvent{
		Node:      node,
		Phase:     phase,
		Message:   msg,
		Timestamp: at.UTC(),
	}
}

// emit delivers ev to the sink. Delivery failures are logged and never
// affect the node.
func (in *Instrumenter) emit(ctx context.Context, ev domain.NodeEvent) {
	logEv := in.logger.Debug()
	if ev.Phase == domain.NodePhaseError {
		logEv = in.logger.Warn().Str("error", ev.Error)
	}
	logEv.Str("node", ev.Node).Str("phase", string(ev.Phase)).Msg("node event")

	if in.sink == nil {
		return
	}
	// Events are delivered even when the node's own context has expired.
	ctx = context.WithoutCancel(ctx)
	if err := in.sink.AppendEvent(ctx, in.runID, ev); err != nil {
		in.logger.Warn().Err(err).Str("node", ev.Node).Str("phase", string(ev.Phase)).Msg("failed to append node event")
	}
	if err := in.sink.SetNodeProgress(ctx, in.runID, ev.Node, ev); err != nil {
		in.logger.Warn().Err(err).Str("node", ev.Node).Msg("failed to update node progress")
	}
}
