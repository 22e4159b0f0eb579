package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// Compile-time interface verification.
var (
	_ workflow.EventSink = (*MultiSink)(nil)
	_ workflow.EventSink = (*Publisher)(nil)
)

// MultiSink writes to a primary sink and any number of secondary sinks.
// Only primary errors are returned; secondary errors are logged.
type MultiSink struct {
	primary   workflow.EventSink
	secondary []workflow.EventSink
	logger    zerolog.Logger
}

// NewMultiSink composes sinks. Nil secondaries are ignored.
func NewMultiSink(primary workflow.EventSink, logger zerolog.Logger, secondary ...workflow.EventSink) *MultiSink {
	m := &MultiSink{
		primary: primary,
		logger:  logger.With().Str("component", "multi_sink").Logger(),
	}
	for _, s := range secondary {
		if s != nil {
			m.secondary = append(m.secondary, s)
		}
	}
	return m
}

// AppendEvent appends ev to every sink.
func (m *MultiSink) AppendEvent(ctx context.Context, runID uuid.UUID, ev domain.NodeEvent) error {
	err := m.primary.AppendEvent(ctx, runID, ev)
	for _, s := range m.secondary {
		if serr := s.AppendEvent(ctx, runID, ev); serr != nil {
			m.logger.Warn().Err(serr).
				Str("run_id", runID.String()).
				Str("node", ev.Node).
				Msg("secondary sink rejected event")
		}
	}
	return err
}

// SetNodeProgress records progress on every sink.
func (m *MultiSink) SetNodeProgress(ctx context.Context, runID uuid.UUID, node string, ev domain.NodeEvent) error {
	err := m.primary.SetNodeProgress(ctx, runID, node, ev)
	for _, s := range m.secondary {
		if serr := s.SetNodeProgress(ctx, runID, node, ev); serr != nil {
			m.logger.Warn().Err(serr).
				Str("run_id", runID.String()).
				Str("node", node).
				Msg("secondary sink rejected progress")
		}
	}
	return err
}
