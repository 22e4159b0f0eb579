package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

// DefaultServiceName is stamped into the metadata of every published envelope.
const DefaultServiceName = "spoton-recommendation-service"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures the Kafka publisher.
type PublisherConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives run and node events.
	Topic string
	// BatchSize is the maximum number of messages per batch.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
	// ServiceName overrides DefaultServiceName.
	ServiceName string
}

// Publisher writes run lifecycle and node progress envelopes to Kafka, keyed
// by run ID so a run's events stay ordered within a partition.
type Publisher struct {
	writer  messageWriter
	topic   string
	service string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewPublisher creates a Publisher backed by a kafka.Writer. metrics may be nil.
func NewPublisher(cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, cfg, metrics, logger)
}

func newPublisher(w messageWriter, cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	service := cfg.ServiceName
	if service == "" {
		service = DefaultServiceName
	}
	return &Publisher{
		writer:  w,
		topic:   cfg.Topic,
		service: service,
		metrics: metrics,
		logger:  logger.With().Str("component", "event_publisher").Str("topic", cfg.Topic).Logger(),
	}
}

// PublishRunStatus publishes the lifecycle event matching payload.Status.
func (p *Publisher) PublishRunStatus(ctx context.Context, payload domain.RunStatusPayload) error {
	eventType := domain.EventTypeForStatus(payload.Status)
	if eventType == "" {
		return domain.NewValidationError("status", fmt.Sprintf("no event for run status %q", payload.Status))
	}
	return p.publish(ctx, eventType, payload.RunID, payload)
}

// AppendEvent publishes a node progress event.
func (p *Publisher) AppendEvent(ctx context.Context, runID uuid.UUID, ev domain.NodeEvent) error {
	return p.publish(ctx, domain.EventTypeNodeProgress, runID, domain.NodeProgressPayload{RunID: runID, Event: ev})
}

// SetNodeProgress is a no-op: consumers derive the latest progress from the
// node_progress stream itself.
func (p *Publisher) SetNodeProgress(context.Context, uuid.UUID, string, domain.NodeEvent) error {
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) publish(ctx context.Context, eventType string, runID uuid.UUID, payload any) error {
	env, err := domain.NewEventEnvelope(eventType, runID.String(), domain.AggregateTypeRun, payload)
	if err != nil {
		return fmt.Errorf("build %s envelope: %w", eventType, err)
	}
	env.WithMetadata(map[string]interface{}{"source": p.service})

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(runID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublishFailed(p.topic)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.metrics.RecordEventPublished(p.topic)
	p.logger.Debug().
		Str("event_type", eventType).
		Str("run_id", runID.String()).
		Msg("event published")
	return nil
}
