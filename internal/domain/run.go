package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run is the record of one execution of the recommendation pipeline.
type Run struct {
	ID uuid.UUID `json:"id"`

	// Status is the lifecycle state; see RunStatus.
	Status RunStatus `json:"status"`

	// Prompt is the free-text trip request, used when Constraints is absent.
	Prompt string `json:"prompt,omitempty"`

	// Constraints are the validated input constraints. For prompt-only runs
	// they are filled in once the request has been parsed.
	Constraints *Constraints `json:"constraints,omitempty"`

	// SkipEnrichment disables the enrichment loop for this run.
	SkipEnrichment bool `json:"skip_enrichment"`

	// Warnings accumulated while the run executed.
	Warnings []string `json:"warnings"`

	// FinalOutput is present only when Status is done.
	FinalOutput *FinalOutput `json:"final_output,omitempty"`

	// ErrorMessage is present only when Status is error.
	ErrorMessage string `json:"error_message,omitempty"`

	// NodeProgress holds the last known event per node.
	NodeProgress map[string]NodeEvent `json:"node_progress"`

	DurationMs int64 `json:"duration_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates a queued run with a fresh identifier.
func NewRun(prompt string, constraints *Constraints, skipEnrichment bool) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:             uuid.New(),
		Status:         RunStatusQueued,
		Prompt:         prompt,
		Constraints:    constraints,
		SkipEnrichment: skipEnrichment,
		Warnings:       []string{},
		NodeProgress:   map[string]NodeEvent{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Duration returns the duration of the run.
// Returns zero if the run has not started, elapsed time if still running,
// and the total duration once completed.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt)
	}
	return time.Since(*r.StartedAt)
}

// IsActive returns true if the run has not reached a terminal state.
func (r *Run) IsActive() bool {
	return !r.Status.IsTerminal()
}

// NodeEvent is an immutable progress record for one pipeline step.
type NodeEvent struct {
	Node       string     `json:"node"`
	Phase      NodePhase  `json:"phase"`
	Status     NodeStatus `json:"status,omitempty"`
	Message    string     `json:"message,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"ts"`
}

// NewNodeEvent builds an event stamped with the current time.
func NewNodeEvent(node string, phase NodePhase, message string) NodeEvent {
	return NodeEvent{
		Node:      node,
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithDuration sets the duration of the event in milliseconds.
func (e NodeEvent) WithDuration(d time.Duration) NodeEvent {
	ms := d.Milliseconds()
	e.DurationMs = &ms
	return e
}

// RunEvent is one entry of a run's append-only event log, as consumed by
// live stream subscribers.
type RunEvent struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Kind      RunEventKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// LogEntry is the payload of a log event.
type LogEntry struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// Artifact is a named document attached to a run (parsed constraints, final output).
type Artifact struct {
	RunID     uuid.UUID       `json:"run_id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Artifact names.
const (
	ArtifactConstraints = "constraints"
	ArtifactFinalOutput = "final_output"
)

// RunCompletion carries the values persisted when a run reaches done.
type RunCompletion struct {
	Constraints *Constraints
	Warnings    []string
	FinalOutput *FinalOutput
	Duration    time.Duration
}
