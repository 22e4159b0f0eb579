package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spoton/recommendation-service/internal/domain"
)

// RunRepository handles run persistence and the run event log.
type RunRepository interface {
	// Create inserts a new run. Returns domain.ErrAlreadyExists on a duplicate ID.
	Create(ctx context.Context, run *domain.Run) error

	// Get retrieves a run with its per-node progress.
	// Returns domain.ErrNotFound if no matching run exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// List retrieves runs matching the filter, newest first, with the total count.
	List(ctx context.Context, filter RunFilter) ([]*domain.Run, int64, error)

	// UpdateStatus moves a run to status. errorMsg is stored for the error status.
	// Returns an error wrapping domain.ErrConflict when the transition is not allowed.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus, errorMsg string) error

	// Complete moves a running run to done and stores its results.
	Complete(ctx context.Context, id uuid.UUID, completion domain.RunCompletion) error

	// AppendEvent appends a node event. Re-delivery of the same event is a no-op.
	AppendEvent(ctx context.Context, runID uuid.UUID, ev domain.NodeEvent) error

	// SetNodeProgress records ev as the latest progress of node.
	SetNodeProgress(ctx context.Context, runID uuid.UUID, node string, ev domain.NodeEvent) error

	// AppendLog appends a run-level log entry.
	AppendLog(ctx context.Context, runID uuid.UUID, entry domain.LogEntry) error

	// SaveArtifact stores an artifact and appends an artifact event for it.
	SaveArtifact(ctx context.Context, artifact domain.Artifact) error

	// EventsAfter returns up to limit events of a run strictly after cursor,
	// ordered by (timestamp, id).
	EventsAfter(ctx context.Context, runID uuid.UUID, cursor EventCursor, limit int) ([]domain.RunEvent, error)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	// Status filters by one or more run statuses (optional).
	Status []domain.RunStatus

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the number of results to skip.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *RunFilter) Validate() error {
	for _, s := range f.Status {
		if !s.Valid() {
			return domain.NewValidationError("status", fmt.Sprintf("unknown run status %q", s))
		}
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

// EventCursor is a position in a run's event log. The zero value is the start.
type EventCursor struct {
	Timestamp time.Time
	ID        uuid.UUID
}

// CursorOf returns the cursor positioned at ev.
func CursorOf(ev domain.RunEvent) EventCursor {
	return EventCursor{Timestamp: ev.CreatedAt, ID: ev.ID}
}

// IsZero reports whether c is the start of the log.
func (c EventCursor) IsZero() bool {
	return c.Timestamp.IsZero() && c.ID == uuid.Nil
}

// String encodes the cursor as "<unix micros>_<id>", the form used for SSE event ids.
func (c EventCursor) String() string {
	if c.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.Timestamp.UnixMicro(), 10) + "_" + c.ID.String()
}

// ParseEventCursor decodes a cursor produced by EventCursor.String.
// An empty string yields the zero cursor.
func ParseEventCursor(s string) (EventCursor, error) {
	if s == "" {
		return EventCursor{}, nil
	}
	ts, id, ok := strings.Cut(s, "_")
	if !ok {
		return EventCursor{}, domain.NewValidationError("cursor", "malformed event cursor")
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return EventCursor{}, domain.NewValidationError("cursor", "malformed event cursor timestamp")
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return EventCursor{}, domain.NewValidationError("cursor", "malformed event cursor id")
	}
	return EventCursor{Timestamp: time.UnixMicro(micros).UTC(), ID: uid}, nil
}
