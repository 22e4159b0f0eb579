// Package httpserver provides the HTTP REST API for submitting, inspecting,
// streaming, cancelling and exporting recommendation runs.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/export"
	"github.com/spoton/recommendation-service/internal/observability"
	"github.com/spoton/recommendation-service/internal/repository"
	"github.com/spoton/recommendation-service/internal/run"
)

// RunService is the run lifecycle the API drives.
type RunService interface {
	Submit(ctx context.Context, in run.CreateRunInput) (*domain.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repository.RunFilter) ([]*domain.Run, int64, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// EventSource reads a run's event log.
type EventSource interface {
	EventsAfter(ctx context.Context, runID uuid.UUID, cursor repository.EventCursor, limit int) ([]domain.RunEvent, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// StreamConfig tunes the live event stream.
type StreamConfig struct {
	// PollInterval is how often the event log is read.
	PollInterval time.Duration
	// IdleTimeout is how long a stream stays open after the run is terminal
	// and no new event arrived.
	IdleTimeout time.Duration
	// MaxDuration bounds the lifetime of one stream.
	MaxDuration time.Duration
	// Heartbeat is the interval of keep-alive comments.
	Heartbeat time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 10 * time.Minute
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	return c
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	Stream          StreamConfig
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Runs     RunService
	Events   EventSource
	Health   HealthChecker
	Exporter *export.Exporter
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	runs       RunService
	events     EventSource
	health     HealthChecker
	exporter   *export.Exporter
	metrics    *observability.Metrics
	stream     StreamConfig
	cors       []string
	logger     zerolog.Logger
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		runs:     deps.Runs,
		events:   deps.Events,
		health:   deps.Health,
		exporter: deps.Exporter,
		metrics:  deps.Metrics,
		stream:   cfg.Stream.withDefaults(),
		cors:     cfg.CORSOrigins,
		logger:   deps.Logger.With().Str("component", "http-server").Logger(),
	}
	if s.exporter == nil {
		s.exporter = export.New()
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	if len(s.cors) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cors,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Last-Event-ID", "X-Request-ID"},
			ExposedHeaders: []string{"Content-Disposition", "X-Request-ID"},
		}).Handler)
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Get("/", s.listRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/events", s.streamEvents)
			r.Post("/cancel", s.cancelRun)
			r.Get("/export", s.exportRun)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the database is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
