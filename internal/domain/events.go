package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for events published to the message bus.
const (
	EventTypeRunQueued    = "run.queued"
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
	EventTypeRunFailed    = "run.failed"
	EventTypeRunCancelled = "run.cancelled"
	EventTypeNodeProgress = "run.node_progress"
)

// AggregateTypeRun is the aggregate type of every run event.
const AggregateTypeRun = "run"

// EventEnvelope is the wire format for events published to the message bus.
type EventEnvelope struct {
	EventID       string                 `json:"event_id"`
	EventVersion  int                    `json:"event_version"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewEventEnvelope creates a new envelope with the given parameters.
// The payload is JSON-serialized automatically.
func NewEventEnvelope(eventType, aggregateID, aggregateType string, payload interface{}) (*EventEnvelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *EventEnvelope) WithMetadata(metadata map[string]interface{}) *EventEnvelope {
	e.Metadata = metadata
	return e
}

// RunStatusPayload is the payload for run lifecycle events.
type RunStatusPayload struct {
	RunID        uuid.UUID `json:"run_id"`
	Status       RunStatus `json:"status"`
	Warnings     []string  `json:"warnings,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
}

// NodeProgressPayload is the payload for run.node_progress events.
type NodeProgressPayload struct {
	RunID uuid.UUID `json:"run_id"`
	Event NodeEvent `json:"event"`
}

// RunControlCommand is a command received from the control topic.
type RunControlCommand struct {
	RunID       uuid.UUID `json:"run_id"`
	Action      string    `json:"action"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// RunControlActionCancel asks the service to cancel a run.
const RunControlActionCancel = "cancel"

// EventTypeForStatus maps a run status to its lifecycle event type.
func EventTypeForStatus(s RunStatus) string {
	switch s {
	case RunStatusQueued:
		return EventTypeRunQueued
	case RunStatusRunning:
		return EventTypeRunStarted
	case RunStatusDone:
		return EventTypeRunCompleted
	case RunStatusError:
		return EventTypeRunFailed
	case RunStatusCancelled:
		return EventTypeRunCancelled
	default:
		return ""
	}
}
