package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/spoton/recommendation-service/internal/domain"
)

// RunCanceller cancels runs by ID. The run controller implements it.
type RunCanceller interface {
	Cancel(ctx context.Context, runID uuid.UUID) error
}

// messageReader is the subset of *kafka.Reader the listener needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ListenerConfig holds configuration for the control listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries RunControlCommand messages.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// ControlListener consumes run control commands and applies them.
type ControlListener struct {
	reader    messageReader
	canceller RunCanceller
	logger    zerolog.Logger
	backoff   time.Duration
}

// NewControlListener creates a listener reading from the control topic.
func NewControlListener(cfg ListenerConfig, canceller RunCanceller, logger zerolog.Logger) *ControlListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newControlListener(reader, canceller, logger)
}

func newControlListener(r messageReader, canceller RunCanceller, logger zerolog.Logger) *ControlListener {
	return &ControlListener{
		reader:    r,
		canceller: canceller,
		logger:    logger.With().Str("component", "control_listener").Logger(),
		backoff:   time.Second,
	}
}

// Run starts the listener loop. Blocks until ctx is cancelled.
func (l *ControlListener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting control listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("control listener stopped")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read control message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.backoff):
			}
			continue
		}

		var cmd domain.RunControlCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to unmarshal control command")
			continue
		}

		l.handle(ctx, cmd)
	}
}

func (l *ControlListener) handle(ctx context.Context, cmd domain.RunControlCommand) {
	logger := l.logger.With().
		Str("run_id", cmd.RunID.String()).
		Str("action", cmd.Action).
		Str("requested_by", cmd.RequestedBy).
		Logger()

	switch cmd.Action {
	case domain.RunControlActionCancel:
		err := l.canceller.Cancel(ctx, cmd.RunID)
		switch {
		case err == nil:
			logger.Info().Msg("run cancelled by control command")
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
			// Unknown here or already finished; another instance may own it.
			logger.Debug().Err(err).Msg("control command not applicable")
		default:
			logger.Error().Err(err).Msg("failed to apply control command")
		}
	default:
		logger.Warn().Msg("unknown control action")
	}
}

// Close closes the Kafka reader.
func (l *ControlListener) Close() error {
	l.logger.Info().Msg("closing control listener")
	return l.reader.Close()
}
