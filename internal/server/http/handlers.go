package httpserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/export"
	"github.com/spoton/recommendation-service/internal/repository"
	"github.com/spoton/recommendation-service/internal/run"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxPromptLength    = 10000
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createRunRequest is the JSON request body for starting a run.
type createRunRequest struct {
	Prompt         string              `json:"prompt,omitempty"`
	Constraints    *domain.Constraints `json:"constraints,omitempty"`
	SkipEnrichment bool                `json:"skip_enrichment,omitempty"`
}

// createRun handles POST /runs.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req createRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(req.Prompt) > maxPromptLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("prompt must be at most %d characters", maxPromptLength))
		return
	}

	created, err := s.runs.Submit(r.Context(), run.CreateRunInput{
		Prompt:         strings.TrimSpace(req.Prompt),
		Constraints:    req.Constraints,
		SkipEnrichment: req.SkipEnrichment,
	})
	if err != nil {
		s.logDomainError(r, err, "failed to submit run")
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+created.ID.String())
	writeJSON(w, http.StatusCreated, createRunResponse{
		RunID:     created.ID.String(),
		Status:    string(created.Status),
		CreatedAt: created.CreatedAt,
	})
}

// getRun handles GET /runs/{runID}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	found, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.logDomainError(r, err, "failed to get run")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(found))
}

// listRuns handles GET /runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)
	filter := repository.RunFilter{Limit: limit, Offset: offset}

	// Optional status filter, repeated or comma separated.
	for _, param := range r.URL.Query()["status"] {
		for _, st := range strings.Split(param, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Status = append(filter.Status, domain.RunStatus(st))
			}
		}
	}

	runs, totalCount, err := s.runs.List(r.Context(), filter)
	if err != nil {
		s.logDomainError(r, err, "failed to list runs")
		writeDomainError(w, err)
		return
	}

	summaries := make([]runSummaryResponse, len(runs))
	for i, item := range runs {
		summaries[i] = domainRunToSummary(item)
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:          summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// cancelRun handles POST /runs/{runID}/cancel.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if err := s.runs.Cancel(r.Context(), runID); err != nil {
		s.logDomainError(r, err, "failed to cancel run")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, cancelRunResponse{
		RunID:   runID.String(),
		Message: "cancellation requested",
	})
}

// exportRun handles GET /runs/{runID}/export?format=.
func (s *Server) exportRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	found, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.logDomainError(r, err, "failed to get run for export")
		writeDomainError(w, err)
		return
	}
	if found.Status != domain.RunStatusDone || found.FinalOutput == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s; only finished runs can be exported", found.Status))
		return
	}

	// Rendered into memory so a failure still yields a clean error response.
	var buf bytes.Buffer
	if err := s.exporter.Render(&buf, format, *found.FinalOutput, found.Constraints); err != nil {
		s.logger.Error().Err(err).Str("run_id", runID.String()).Str("format", string(format)).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(runID.String(), format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// logDomainError logs unexpected errors; client errors are not logged.
func (s *Server) logDomainError(r *http.Request, err error, msg string) {
	if statusForError(err) < http.StatusInternalServerError {
		return
	}
	s.logger.Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(msg)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := statusForError(err)
	switch status {
	case http.StatusNotFound:
		writeError(w, status, "resource not found")
	case http.StatusBadRequest:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, status, ve.Error())
		} else {
			writeError(w, status, "invalid input")
		}
	case http.StatusConflict:
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			writeError(w, status, ce.Reason)
		} else {
			writeError(w, status, "conflict")
		}
	case http.StatusTooManyRequests:
		writeError(w, status, "rate limited")
	case http.StatusServiceUnavailable:
		writeError(w, status, "service unavailable")
	default:
		writeError(w, status, "internal server error")
	}
}

// parseUUID parses s as a UUID, writing a 400 response on failure.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams reads page_size and page_token.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
