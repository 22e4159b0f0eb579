package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		expected bool
	}{
		{RunStatusQueued, false},
		{RunStatusRunning, false},
		{RunStatusDone, true},
		{RunStatusError, true},
		{RunStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}

	assert.False(t, RunStatus("paused").Valid())
}

func TestNodeStatus_Valid(t *testing.T) {
	for _, s := range []NodeStatus{NodeStatusCompleted, NodeStatusPartial, NodeStatusFailed, NodeStatusSkipped} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, NodeStatus("running").Valid())
}

func TestRun_Duration(t *testing.T) {
	t.Run("returns zero when not started", func(t *testing.T) {
		run := &Run{}
		assert.Equal(t, time.Duration(0), run.Duration())
	})

	t.Run("returns duration when completed", func(t *testing.T) {
		start := time.Now().Add(-5 * time.Minute)
		end := time.Now()
		run := &Run{StartedAt: &start, CompletedAt: &end}
		dur := run.Duration()
		assert.True(t, dur >= 4*time.Minute && dur <= 6*time.Minute, "duration should be around 5 minutes")
	})

	t.Run("returns elapsed time when still running", func(t *testing.T) {
		start := time.Now().Add(-2 * time.Second)
		run := &Run{StartedAt: &start}
		dur := run.Duration()
		assert.True(t, dur >= 1*time.Second && dur <= 3*time.Second, "duration should be around 2 seconds")
	})
}

func TestNewRun(t *testing.T) {
	c := &Constraints{Origin: "Tokyo (NRT)", Destination: "Seoul (ICN)", DepartingDate: "2026-05-01"}
	run := NewRun("", c, true)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.True(t, run.IsActive())
	assert.True(t, run.SkipEnrichment)
	assert.NotNil(t, run.NodeProgress)
	assert.NotNil(t, run.Warnings)
	assert.Same(t, c, run.Constraints)
}

func TestNodeEvent_WithDuration(t *testing.T) {
	ev := NewNodeEvent("HotelAgent", NodePhaseEnd, "HotelAgent finished").WithDuration(1500 * time.Millisecond)
	require.NotNil(t, ev.DurationMs)
	assert.Equal(t, int64(1500), *ev.DurationMs)
	assert.False(t, ev.Timestamp.IsZero())

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"duration_ms":1500`)
	assert.Contains(t, string(data), `"phase":"end"`)
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("origin", "is required")
	assert.Equal(t, "validation error: origin: is required", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNotFoundError(t *testing.T) {
	id := uuid.New()
	err := NewNotFoundError("run", id.String())
	assert.Equal(t, "run not found: "+id.String(), err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("run", "abc")
	assert.Equal(t, "run already exists: abc", err.Error())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestConflictError(t *testing.T) {
	err := NewConflictError("run", "abc", "already done")
	assert.Equal(t, "run abc: already done", err.Error())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("search", 30*time.Second)
	assert.Equal(t, "rate limited by search: retry after 30s", err.Error())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestExternalAPIError(t *testing.T) {
	t.Run("error message", func(t *testing.T) {
		err := NewExternalAPIError("search", 500, "internal server error", assert.AnError)
		assert.Contains(t, err.Error(), "search API error")
		assert.Contains(t, err.Error(), "500")
		assert.Equal(t, assert.AnError, err.Unwrap())
		assert.True(t, err.IsTransient())
	})

	t.Run("unwrap returns ErrServiceUnavailable when no cause", func(t *testing.T) {
		err := NewExternalAPIError("search", 404, "not found", nil)
		assert.ErrorIs(t, err, ErrServiceUnavailable)
		assert.False(t, err.IsTransient())
	})
}

func TestEventEnvelope(t *testing.T) {
	runID := uuid.New()
	payload := RunStatusPayload{RunID: runID, Status: RunStatusDone}

	event, err := NewEventEnvelope(EventTypeForStatus(RunStatusDone), runID.String(), AggregateTypeRun, payload)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, EventTypeRunCompleted, event.EventType)
	assert.Equal(t, runID.String(), event.AggregateID)
	assert.Equal(t, 1, event.EventVersion)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded RunStatusPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, payload, decoded)

	event.WithMetadata(map[string]interface{}{"source": "test"})
	assert.Equal(t, "test", event.Metadata["source"])
}

func TestEventTypeForStatus(t *testing.T) {
	assert.Equal(t, EventTypeRunQueued, EventTypeForStatus(RunStatusQueued))
	assert.Equal(t, EventTypeRunStarted, EventTypeForStatus(RunStatusRunning))
	assert.Equal(t, EventTypeRunFailed, EventTypeForStatus(RunStatusError))
	assert.Equal(t, EventTypeRunCancelled, EventTypeForStatus(RunStatusCancelled))
	assert.Empty(t, EventTypeForStatus(RunStatus("bogus")))
}
