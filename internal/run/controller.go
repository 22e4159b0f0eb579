// Package run owns the lifecycle of recommendation runs: submission,
// execution on the workflow executor, cancellation and terminal persistence.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/agents"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
	"github.com/spoton/recommendation-service/internal/repository"
	"github.com/spoton/recommendation-service/internal/workflow"
)

// QueueNode is the pseudo node reported when a run is accepted.
const QueueNode = "Queue"

// Messages persisted for terminal runs.
const (
	msgTimedOut     = "run timed out"
	msgShuttingDown = "service shutting down"
)

const (
	defaultRunTimeout     = 180 * time.Second
	defaultPersistTimeout = 10 * time.Second
)

// StatusPublisher announces run status changes outside the service.
type StatusPublisher interface {
	PublishRunStatus(ctx context.Context, payload domain.RunStatusPayload) error
}

// CreateRunInput is the request to start a run.
type CreateRunInput struct {
	Prompt         string
	Constraints    *domain.Constraints
	SkipEnrichment bool
}

// Validate normalizes the input and checks it. Either a prompt or
// constraints must be present; constraints win when both are.
func (in *CreateRunInput) Validate() error {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Constraints != nil {
		return in.Constraints.Validate()
	}
	if in.Prompt == "" {
		return domain.NewValidationError("prompt", "either prompt or constraints is required")
	}
	return nil
}

// Config bounds run execution.
type Config struct {
	// RunTimeout is the total budget of one run.
	RunTimeout time.Duration

	// PersistTimeout bounds each terminal write, which happens after the run
	// context may already have expired.
	PersistTimeout time.Duration
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Store    repository.RunRepository
	Executor *workflow.Executor
	Graph    *workflow.Graph

	// Sink receives node events. Nil uses Store.
	Sink workflow.EventSink

	// Publisher is optional.
	Publisher StatusPublisher

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type activeRun struct {
	canceller *workflow.Canceller
	done      chan struct{}
	requestID string
}

// Controller starts runs and drives them to a terminal status.
type Controller struct {
	store     repository.RunRepository
	executor  *workflow.Executor
	graph     *workflow.Graph
	sink      workflow.EventSink
	publisher StatusPublisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
	cfg       Config

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[uuid.UUID]*activeRun
	closing bool
	wg      sync.WaitGroup
}

// NewController creates a Controller.
func NewController(deps Deps, cfg Config) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("run controller requires a store")
	}
	if deps.Executor == nil || deps.Graph == nil {
		return nil, errors.New("run controller requires an executor and a graph")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	sink := deps.Sink
	if sink == nil {
		sink = deps.Store
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Controller{
		store:      deps.Store,
		executor:   deps.Executor,
		graph:      deps.Graph,
		sink:       sink,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With().Str("component", "run_controller").Logger(),
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[uuid.UUID]*activeRun),
	}, nil
}

// Submit validates in, persists a queued run and starts executing it in the
// background. The returned run is the queued record.
func (c *Controller) Submit(ctx context.Context, in CreateRunInput) (*domain.Run, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r := domain.NewRun(in.Prompt, in.Constraints, in.SkipEnrichment)
	ar := &activeRun{
		canceller: workflow.NewCanceller(),
		done:      make(chan struct{}),
		requestID: observability.RequestIDFromContext(ctx),
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, domain.ErrShuttingDown
	}
	// Registered before the record exists so that Cancel never treats a run
	// being submitted as orphaned, and before the goroutine starts so that
	// Shutdown waits for it.
	c.active[r.ID] = ar
	c.wg.Add(1)
	c.mu.Unlock()

	if err := c.store.Create(ctx, r); err != nil {
		c.mu.Lock()
		delete(c.active, r.ID)
		c.mu.Unlock()
		close(ar.done)
		c.wg.Done()
		return nil, fmt.Errorf("create run: %w", err)
	}

	queued := domain.NewNodeEvent(QueueNode, domain.NodePhaseStart, "Run queued")
	if err := c.sink.AppendEvent(ctx, r.ID, queued); err != nil {
		c.logger.Warn().Err(err).Str("run_id", r.ID.String()).Msg("failed to record queue event")
	}
	c.publish(ctx, domain.RunStatusPayload{RunID: r.ID, Status: domain.RunStatusQueued})

	go c.execute(r, ar)
	return r, nil
}

// Get returns the run record.
func (c *Controller) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return c.store.Get(ctx, id)
}

// List returns runs matching filter and the total count.
func (c *Controller) List(ctx context.Context, filter repository.RunFilter) ([]*domain.Run, int64, error) {
	return c.store.List(ctx, filter)
}

// Cancel requests cancellation of a run. It returns a not found error for
// unknown runs and a conflict error for runs already in a terminal state.
// Cancellation of an executing run is best effort: a run whose sink is
// already running still ends done.
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	ar, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		ar.canceller.Cancel()
		c.logger.Info().Str("run_id", id.String()).Msg("run cancellation requested")
		return nil
	}

	r, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() {
		return domain.NewConflictError("run", id.String(), fmt.Sprintf("run is already %s", r.Status))
	}

	// Not executing in this process; the record was orphaned.
	if err := c.store.UpdateStatus(ctx, id, domain.RunStatusCancelled, ""); err != nil {
		return err
	}
	c.metrics.RecordRunCancelled()
	c.publish(ctx, domain.RunStatusPayload{RunID: id, Status: domain.RunStatusCancelled})
	return nil
}

// Wait blocks until the run finishes executing in this process or ctx is done.
// It returns immediately for runs that are not executing.
func (c *Controller) Wait(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	ar, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of runs executing in this process.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown stops accepting runs and cancels the executing ones. It waits for
// them to reach a terminal status until ctx is done, then interrupts them.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	for _, ar := range c.active {
		ar.canceller.Cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.baseCancel()
		return nil
	case <-ctx.Done():
		c.baseCancel()
		return fmt.Errorf("run controller shutdown: %w", ctx.Err())
	}
}

func (c *Controller) execute(r *domain.Run, ar *activeRun) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.active, r.ID)
		c.mu.Unlock()
		close(ar.done)
	}()

	runID := r.ID.String()
	ctx := observability.WithRunContextFull(c.baseCtx, observability.RunContext{
		RunID:     runID,
		RequestID: ar.requestID,
	})
	logger := observability.LoggerFromContext(ctx, c.logger)

	if ar.canceller.Cancelled() {
		c.finishCancelled(ctx, r.ID, 0, logger)
		return
	}

	if err := c.store.UpdateStatus(ctx, r.ID, domain.RunStatusRunning, ""); err != nil {
		logger.Error().Err(err).Msg("failed to mark run running")
		return
	}
	c.log(ctx, r.ID, "info", "Run started", nil)
	c.metrics.RecordRunStarted()
	c.publish(ctx, domain.RunStatusPayload{RunID: r.ID, Status: domain.RunStatusRunning})

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	// Budget expiry stops scheduling first; in-flight nodes see runCtx expire.
	stop := context.AfterFunc(runCtx, ar.canceller.Cancel)
	defer stop()

	start := time.Now()
	res, err := c.executor.Run(runCtx, c.graph, workflow.RunInput{
		RunID:     r.ID,
		Seed:      agents.Seed(r.Prompt, r.Constraints, r.SkipEnrichment),
		Canceller: ar.canceller,
		Sink:      c.sink,
		OnNodeDone: func(node string, status domain.NodeStatus, state workflow.View) {
			if node == agents.NodeParse && status != domain.NodeStatusFailed {
				c.saveConstraints(ctx, r.ID, state, logger)
			}
		},
	})
	elapsed := time.Since(start)

	interrupted := err != nil || res.Outcome == workflow.OutcomeCancelled
	timedOut := interrupted && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	switch {
	case timedOut:
		c.finishError(ctx, r.ID, msgTimedOut, elapsed, logger)
	case err != nil && errors.Is(err, context.Canceled):
		c.finishError(ctx, r.ID, msgShuttingDown, elapsed, logger)
	case err != nil:
		c.finishError(ctx, r.ID, err.Error(), elapsed, logger)
	case res.Outcome == workflow.OutcomeCancelled:
		c.finishCancelled(ctx, r.ID, elapsed, logger)
	default:
		c.finishDone(ctx, r.ID, res, elapsed, logger)
	}
}

func (c *Controller) finishDone(ctx context.Context, id uuid.UUID, res workflow.RunResult, elapsed time.Duration, logger zerolog.Logger) {
	ctx, cancel := c.persistContext(ctx)
	defer cancel()

	out := agents.FinalOutput(res.State)
	warnings := agents.Warnings(res.State)
	completion := domain.RunCompletion{
		Warnings:    warnings,
		FinalOutput: &out,
		Duration:    elapsed,
	}
	if cons, ok := agents.ConstraintsOf(res.State); ok {
		completion.Constraints = &cons
	}

	if payload, err := json.Marshal(out); err != nil {
		logger.Error().Err(err).Msg("failed to encode final output")
	} else if err := c.store.SaveArtifact(ctx, domain.Artifact{RunID: id, Name: domain.ArtifactFinalOutput, Payload: payload}); err != nil {
		logger.Error().Err(err).Msg("failed to save final output artifact")
	}

	if err := c.store.Complete(ctx, id, completion); err != nil {
		logger.Error().Err(err).Msg("failed to complete run")
		return
	}
	c.log(ctx, id, "info", "Run completed", &elapsed)
	c.metrics.RecordRunCompleted(elapsed.Seconds())
	c.publish(ctx, domain.RunStatusPayload{
		RunID:      id,
		Status:     domain.RunStatusDone,
		Warnings:   warnings,
		DurationMs: elapsed.Milliseconds(),
	})
	logger.Info().
		Dur("duration", elapsed).
		Int("steps", res.Steps).
		Int("warnings", len(warnings)).
		Msg("run completed")
}

func (c *Controller) finishError(ctx context.Context, id uuid.UUID, msg string, elapsed time.Duration, logger zerolog.Logger) {
	ctx, cancel := c.persistContext(ctx)
	defer cancel()

	if err := c.store.UpdateStatus(ctx, id, domain.RunStatusError, msg); err != nil {
		logger.Error().Err(err).Msg("failed to mark run failed")
		return
	}
	c.log(ctx, id, "error", msg, &elapsed)
	c.metrics.RecordRunFailed(elapsed.Seconds())
	c.publish(ctx, domain.RunStatusPayload{
		RunID:        id,
		Status:       domain.RunStatusError,
		ErrorMessage: msg,
		DurationMs:   elapsed.Milliseconds(),
	})
	logger.Warn().Str("error", msg).Dur("duration", elapsed).Msg("run failed")
}

func (c *Controller) finishCancelled(ctx context.Context, id uuid.UUID, elapsed time.Duration, logger zerolog.Logger) {
	ctx, cancel := c.persistContext(ctx)
	defer cancel()

	if err := c.store.UpdateStatus(ctx, id, domain.RunStatusCancelled, ""); err != nil {
		logger.Error().Err(err).Msg("failed to mark run cancelled")
		return
	}
	c.log(ctx, id, "info", "Run cancelled", &elapsed)
	c.metrics.RecordRunCancelled()
	c.publish(ctx, domain.RunStatusPayload{
		RunID:      id,
		Status:     domain.RunStatusCancelled,
		DurationMs: elapsed.Milliseconds(),
	})
	logger.Info().Dur("duration", elapsed).Msg("run cancelled")
}

func (c *Controller) saveConstraints(ctx context.Context, id uuid.UUID, state workflow.View, logger zerolog.Logger) {
	cons, ok := agents.ConstraintsOf(state)
	if !ok {
		return
	}
	payload, err := json.Marshal(cons)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode constraints")
		return
	}
	ctx, cancel := c.persistContext(ctx)
	defer cancel()
	if err := c.store.SaveArtifact(ctx, domain.Artifact{RunID: id, Name: domain.ArtifactConstraints, Payload: payload}); err != nil {
		logger.Warn().Err(err).Msg("failed to save constraints artifact")
	}
}

// persistContext detaches from run cancellation so terminal writes land.
func (c *Controller) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
}

func (c *Controller) log(ctx context.Context, id uuid.UUID, level, msg string, d *time.Duration) {
	entry := domain.LogEntry{Level: level, Message: msg}
	if d != nil {
		ms := d.Milliseconds()
		entry.DurationMs = &ms
	}
	if err := c.store.AppendLog(ctx, id, entry); err != nil {
		c.logger.Warn().Err(err).Str("run_id", id.String()).Msg("failed to append run log")
	}
}

func (c *Controller) publish(ctx context.Context, payload domain.RunStatusPayload) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishRunStatus(ctx, payload); err != nil {
		c.logger.Warn().Err(err).
			Str("run_id", payload.RunID.String()).
			Str("status", string(payload.Status)).
			Msg("failed to publish run status")
	}
}
