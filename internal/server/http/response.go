package httpserver

import (
	"time"

	"github.com/spoton/recommendation-service/internal/domain"
)

// Run response types for JSON serialization.

type createRunResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type runResponse struct {
	RunID          string                      `json:"run_id"`
	Status         string                      `json:"status"`
	Prompt         string                      `json:"prompt,omitempty"`
	Constraints    *domain.Constraints         `json:"constraints,omitempty"`
	SkipEnrichment bool                        `json:"skip_enrichment"`
	Warnings       []string                    `json:"warnings"`
	FinalOutput    *domain.FinalOutput         `json:"final_output,omitempty"`
	ErrorMessage   string                      `json:"error_message,omitempty"`
	NodeProgress   map[string]domain.NodeEvent `json:"node_progress"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	StartedAt      *time.Time                  `json:"started_at,omitempty"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
	DurationMs     int64                       `json:"duration_ms,omitempty"`
}

type runSummaryResponse struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	Trip        string     `json:"trip,omitempty"`
	Warnings    int        `json:"warnings"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

type listRunsResponse struct {
	Runs          []runSummaryResponse `json:"runs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

type cancelRunResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// statusEvent is the payload of the terminal "status" stream event.
type statusEvent struct {
	RunID        string   `json:"run_id"`
	Status       string   `json:"status"`
	Warnings     []string `json:"warnings,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`
}

// Converter functions

func domainRunToResponse(r *domain.Run) runResponse {
	resp := runResponse{
		RunID:          r.ID.String(),
		Status:         string(r.Status),
		Prompt:         r.Prompt,
		Constraints:    r.Constraints,
		SkipEnrichment: r.SkipEnrichment,
		Warnings:       r.Warnings,
		ErrorMessage:   r.ErrorMessage,
		NodeProgress:   r.NodeProgress,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		DurationMs:     r.DurationMs,
	}
	// Output is exposed only for finished runs.
	if r.Status == domain.RunStatusDone {
		resp.FinalOutput = r.FinalOutput
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	if resp.NodeProgress == nil {
		resp.NodeProgress = map[string]domain.NodeEvent{}
	}
	return resp
}

func domainRunToSummary(r *domain.Run) runSummaryResponse {
	resp := runSummaryResponse{
		RunID:       r.ID.String(),
		Status:      string(r.Status),
		Warnings:    len(r.Warnings),
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
		DurationMs:  r.DurationMs,
	}
	if c := r.Constraints; c != nil {
		resp.Trip = c.Origin + " to " + c.Destination
	}
	return resp
}

func domainRunToStatusEvent(r *domain.Run) statusEvent {
	return statusEvent{
		RunID:        r.ID.String(),
		Status:       string(r.Status),
		Warnings:     r.Warnings,
		ErrorMessage: r.ErrorMessage,
		DurationMs:   r.DurationMs,
	}
}
