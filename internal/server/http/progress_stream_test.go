package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/repository"
)

func nodeRunEvent(t *testing.T, runID uuid.UUID, ts time.Time, ev domain.NodeEvent) domain.RunEvent {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return domain.RunEvent{ID: uuid.New(), RunID: runID, Kind: domain.RunEventNode, Payload: payload, CreatedAt: ts}
}

func logRunEvent(runID uuid.UUID, ts time.Time, msg string) domain.RunEvent {
	payload, _ := json.Marshal(domain.LogEntry{Level: "info", Message: msg})
	return domain.RunEvent{ID: uuid.New(), RunID: runID, Kind: domain.RunEventLog, Payload: payload, CreatedAt: ts}
}

// logSource serves a fixed event log honouring the cursor.
type logSource struct {
	mu      sync.Mutex
	events  []domain.RunEvent
	cursors []repository.EventCursor
}

func (s *logSource) add(ev domain.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *logSource) EventsAfter(_ context.Context, _ uuid.UUID, cursor repository.EventCursor, limit int) ([]domain.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)
	var out []domain.RunEvent
	for _, ev := range s.events {
		c := repository.CursorOf(ev)
		if !cursor.IsZero() && !c.Timestamp.After(cursor.Timestamp) {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestStreamEvents_ReplaysAndEndsWithStatus(t *testing.T) {
	r := doneRun()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &logSource{}
	first := nodeRunEvent(t, r.ID, base, domain.NodeEvent{Node: "ParseRequest", Phase: domain.NodePhaseStart})
	src.add(first)
	src.add(logRunEvent(r.ID, base.Add(time.Second), "Run completed"))

	srv := newTestHTTPServer(&mockRunService{
		getFn: func(context.Context, uuid.UUID) (*domain.Run, error) { return r, nil },
	}, src)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, runPath(r.ID, "/events"), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	body := rr.Body.String()
	wantOrder := []string{
		"id: " + repository.CursorOf(first).String() + "\nevent: node\n",
		"event: log\n",
		"event: status\n",
	}
	last := -1
	for _, want := range wantOrder {
		idx := strings.Index(body, want)
		if idx <= last {
			t.Fatalf("expected %q after offset %d in body:\n%s", want, last, body)
		}
		last = idx
	}
	if !strings.Contains(body, `"status":"done"`) {
		t.Errorf("expected terminal status payload, got:\n%s", body)
	}
	if strings.Count(body, "event: status") != 1 {
		t.Errorf("expected exactly one status event, got:\n%s", body)
	}
}

func TestStreamEvents_ResumesFromLastEventID(t *testing.T) {
	r := doneRun()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &logSource{}
	first := nodeRunEvent(t, r.ID, base, domain.NodeEvent{Node: "ParseRequest", Phase: domain.NodePhaseStart})
	second := nodeRunEvent(t, r.ID, base.Add(time.Second), domain.NodeEvent{Node: "ParseRequest", Phase: domain.NodePhaseEnd})
	src.add(first)
	src.add(second)

	srv := newTestHTTPServer(&mockRunService{
		getFn: func(context.Context, uuid.UUID) (*domain.Run, error) { return r, nil },
	}, src)

	req := httptest.NewRequest(http.MethodGet, runPath(r.ID, "/events"), nil)
	req.Header.Set("Last-Event-ID", repository.CursorOf(first).String())
	rr := serveHTTP(srv, req)

	body := rr.Body.String()
	if strings.Contains(body, repository.CursorOf(first).String()+"\n") {
		t.Errorf("expected replay to skip the acknowledged event, got:\n%s", body)
	}
	if !strings.Contains(body, "id: "+repository.CursorOf(second).String()) {
		t.Errorf("expected the second event, got:\n%s", body)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.cursors[0].Timestamp.Equal(base) {
		t.Errorf("expected first read from cursor %v, got %v", base, src.cursors[0].Timestamp)
	}
}

func TestStreamEvents_FollowsRunningRun(t *testing.T) {
	r := doneRun()
	r.Status = domain.RunStatusRunning
	src := &logSource{}

	var polls atomic.Int32
	srv := newTestHTTPServer(&mockRunService{
		getFn: func(context.Context, uuid.UUID) (*domain.Run, error) {
			n := polls.Add(1)
			if n == 3 {
				src.add(logRunEvent(r.ID, time.Now().UTC(), "Run completed"))
			}
			if n < 4 {
				cp := *r
				return &cp, nil
			}
			done := doneRun()
			done.ID = r.ID
			return done, nil
		},
	}, src)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, runPath(r.ID, "/events"), nil))
	body := rr.Body.String()
	logIdx := strings.Index(body, "event: log")
	statusIdx := strings.Index(body, "event: status")
	if logIdx < 0 || statusIdx < logIdx {
		t.Fatalf("expected log event before status event, got:\n%s", body)
	}
}

func TestStreamEvents_StopsOnClientDisconnect(t *testing.T) {
	r := doneRun()
	r.Status = domain.RunStatusRunning
	srv := newTestHTTPServer(&mockRunService{
		getFn: func(context.Context, uuid.UUID) (*domain.Run, error) { return r, nil },
	}, &logSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, runPath(r.ID, "/events"), nil).WithContext(ctx)

	finished := make(chan *httptest.ResponseRecorder, 1)
	go func() { finished <- serveHTTP(srv, req) }()

	select {
	case rr := <-finished:
		if strings.Contains(rr.Body.String(), "event: status") {
			t.Error("expected no status event for a disconnected client")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
}

func TestStreamEvents_Errors(t *testing.T) {
	srv := newTestHTTPServer(&mockRunService{}, &logSource{})

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, runPath(uuid.New(), "/events"), nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, runPath(uuid.New(), "/events"), nil)
	req.Header.Set("Last-Event-ID", "garbage")
	rr = serveHTTP(srv, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed cursor, got %d", rr.Code)
	}
}
