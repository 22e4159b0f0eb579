package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/run"
)

// TestSQLInjection_PromptField verifies that SQL injection payloads in the
// prompt are forwarded verbatim as opaque data and never produce a 500.
func TestSQLInjection_PromptField(t *testing.T) {
	payloads := []struct {
		name   string
		prompt string
	}{
		{"drop table", "'; DROP TABLE runs; --"},
		{"boolean tautology", "1 OR 1=1"},
		{"union select", "' UNION SELECT * FROM run_events --"},
		{"stacked queries", "'; DELETE FROM run_artifacts; --"},
		{"batch separator", "trip\nGO\nDROP TABLE runs"},
	}

	for _, tc := range payloads {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			srv := newTestHTTPServer(&mockRunService{
				submitFn: func(_ context.Context, in run.CreateRunInput) (*domain.Run, error) {
					got = in.Prompt
					return domain.NewRun(in.Prompt, nil, false), nil
				},
			}, nil)

			body, _ := json.Marshal(map[string]string{"prompt": tc.prompt})
			rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(string(body))))

			if rr.Code != http.StatusCreated {
				t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
			}
			if got != strings.TrimSpace(tc.prompt) {
				t.Errorf("expected prompt forwarded verbatim, got %q", got)
			}
		})
	}
}

// TestXSSPayload_HTMLExport verifies that markup scraped into item names is
// escaped when a run is exported as HTML.
func TestXSSPayload_HTMLExport(t *testing.T) {
	payloads := []string{
		`<script>alert('xss')</script>`,
		`<img src=x onerror=alert(1)>`,
		`<a href="javascript:alert(1)">click</a>`,
	}

	for i, payload := range payloads {
		t.Run(fmt.Sprintf("payload_%d", i), func(t *testing.T) {
			r := doneRun()
			r.FinalOutput.MainResults.Hotels[0].Name = payload
			r.FinalOutput.MainResults.Hotels[0].WhyRecommended = payload
			srv := newTestHTTPServer(&mockRunService{
				getFn: func(context.Context, uuid.UUID) (*domain.Run, error) { return r, nil },
			}, nil)

			rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, runPath(r.ID, "/export?format=html"), nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			body := rr.Body.String()
			for _, raw := range []string{"<script>", "<img", `href="javascript:`} {
				if strings.Contains(body, raw) {
					t.Errorf("export contains unescaped %q:\n%s", raw, body)
				}
			}
		})
	}
}

// TestResponseSanitization verifies that JSON responses keep markup as data.
func TestResponseSanitization(t *testing.T) {
	r := doneRun()
	r.Prompt = `<script>alert(1)</script>`
	srv := newTestHTTPServer(&mockRunService{
		getFn: func(context.Context, uuid.UUID) (*domain.Run, error) { return r, nil },
	}, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, runPath(r.ID, ""), nil))
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if strings.Contains(rr.Body.String(), "<script>") {
		t.Errorf("expected HTML-escaped JSON, got %s", rr.Body.String())
	}

	var resp runResponse
	decodeJSON(t, rr, &resp)
	if resp.Prompt != r.Prompt {
		t.Errorf("expected prompt to round-trip, got %q", resp.Prompt)
	}
}

func TestWriteDomainError_NeverLeaksInternalDetails(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "generic error with DB details",
			err:            fmt.Errorf("FATAL: password authentication failed for user \"spoton\""),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "internal server error",
		},
		{
			name:           "wrapped postgres error",
			err:            fmt.Errorf("repository: %w", fmt.Errorf("pq: relation \"runs\" does not exist")),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "internal server error",
		},
		{
			name:           "not found does not echo the id",
			err:            domain.NewNotFoundError("run", "secret-id"),
			expectedStatus: http.StatusNotFound,
			expectedBody:   "resource not found",
		},
		{
			name:           "nil error is no-op",
			err:            nil,
			expectedStatus: http.StatusOK,
			expectedBody:   "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tc.err)

			if tc.err == nil {
				if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
					t.Errorf("expected no response for nil error, got %d %q", rr.Code, rr.Body.String())
				}
				return
			}

			if rr.Code != tc.expectedStatus {
				t.Errorf("expected status %d, got %d", tc.expectedStatus, rr.Code)
			}

			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tc.expectedBody {
				t.Errorf("expected error %q, got %q", tc.expectedBody, resp["error"])
			}
			if strings.Contains(resp["error"], tc.err.Error()) {
				t.Errorf("response contains raw error message: %s", resp["error"])
			}
		})
	}
}
