package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/repository"
)

// ssePageSize is the number of events read per poll.
const ssePageSize = 200

// Stream event names besides the run event kinds.
const (
	sseEventStatus  = "status"
	sseEventTimeout = "timeout"
)

// sseWriter writes server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) event(id, name string, data []byte) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return fmt.Errorf("compact event payload: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, compact.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamEvents handles GET /runs/{runID}/events (SSE).
//
// Events are replayed from the cursor in Last-Event-ID (or the "after" query
// parameter) and then followed by polling. Once the run is terminal and no
// event arrived for the idle timeout, a final "status" event is sent and the
// stream ends.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	rawCursor := r.Header.Get("Last-Event-ID")
	if rawCursor == "" {
		rawCursor = r.URL.Query().Get("after")
	}
	cursor, err := repository.ParseEventCursor(rawCursor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	current, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.logDomainError(r, err, "failed to get run for stream")
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	st := &eventStream{
		server:       s,
		out:          sseWriter{w: w, flusher: flusher},
		runID:        runID,
		cursor:       cursor,
		lastActivity: time.Now(),
	}
	if current.Status.IsTerminal() {
		st.terminal = current
	}
	st.run(r)
}

type eventStream struct {
	server       *Server
	out          sseWriter
	runID        uuid.UUID
	cursor       repository.EventCursor
	terminal     *domain.Run
	lastActivity time.Time
}

func (st *eventStream) run(r *http.Request) {
	ctx := r.Context()
	cfg := st.server.stream
	logger := st.server.logger.With().Str("run_id", st.runID.String()).Logger()

	deadline := time.NewTimer(cfg.MaxDuration)
	defer deadline.Stop()
	poll := time.NewTicker(cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		done, err := st.step(r)
		if err != nil {
			logger.Warn().Err(err).Msg("event stream aborted")
			return
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			_ = st.out.event("", sseEventTimeout, []byte(`{"message":"stream max duration exceeded"}`))
			return
		case <-heartbeat.C:
			if err := st.out.comment("keep-alive"); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

// step forwards new events and reports whether the stream is finished.
func (st *eventStream) step(r *http.Request) (bool, error) {
	ctx := r.Context()
	for {
		events, err := st.server.events.EventsAfter(ctx, st.runID, st.cursor, ssePageSize)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			// Transient read failures are retried on the next poll.
			st.server.logger.Error().Err(err).Str("run_id", st.runID.String()).Msg("failed to read run events")
			return false, nil
		}
		for _, ev := range events {
			cur := repository.CursorOf(ev)
			if err := st.out.event(cur.String(), string(ev.Kind), ev.Payload); err != nil {
				return true, err
			}
			st.cursor = cur
			st.lastActivity = time.Now()
		}
		if len(events) < ssePageSize {
			break
		}
	}

	if st.terminal == nil {
		current, err := st.server.runs.Get(ctx, st.runID)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			st.server.logger.Error().Err(err).Str("run_id", st.runID.String()).Msg("failed to poll run status")
			return false, nil
		}
		if !current.Status.IsTerminal() {
			return false, nil
		}
		st.terminal = current
		st.lastActivity = time.Now()
	}

	// Trailing events may still arrive shortly after the terminal write.
	if time.Since(st.lastActivity) < st.server.stream.IdleTimeout {
		return false, nil
	}

	payload, err := json.Marshal(domainRunToStatusEvent(st.terminal))
	if err != nil {
		return true, err
	}
	return true, st.out.event("", sseEventStatus, payload)
}
