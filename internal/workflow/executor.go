package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

// ErrCriticalNode is returned when a node declared Critical fails.
var ErrCriticalNode = errors.New("critical node failed")

const (
	defaultMaxSteps    = 100
	defaultPoolSize    = 16
	defaultNodeTimeout = 30 * time.Second
)

// Outcome is how a run that did not fail ended.
type Outcome int

const (
	// OutcomeCompleted means the sink node executed.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means cancellation was observed before the sink ran.
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunInput carries the per-run inputs of Executor.Run.
type RunInput struct {
	RunID uuid.UUID

	// Seed is written into the state before the entry node runs.
	Seed Update

	// Canceller may be nil.
	Canceller *Canceller

	// Sink receives node events; may be nil.
	Sink EventSink

	// OnNodeDone is called from the scheduling goroutine after a node's
	// update has been merged. It must not block for long.
	OnNodeDone func(node string, status domain.NodeStatus, state View)
}

// RunResult describes a finished execution. It is populated on error too,
// reflecting the state reached before the failure.
type RunResult struct {
	Outcome    Outcome
	State      View
	Statuses   map[string]domain.NodeStatus
	LoopPasses int
	Steps      int

	// Completed lists node ids in the order their results were merged.
	Completed []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithPool makes the executor dispatch nodes on an existing pool. The
// executor does not release it.
func WithPool(pool *ants.Pool) Option {
	return func(e *Executor) { e.pool = pool }
}

// WithPoolSize sets the size of the pool the executor creates for itself.
func WithPoolSize(n int) Option {
	return func(e *Executor) { e.poolSize = n }
}

// WithMaxSteps bounds the number of node launches per run.
func WithMaxSteps(n int) Option {
	return func(e *Executor) { e.maxSteps = n }
}

// WithDefaultTimeout sets the attempt timeout for nodes that declare none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor drives compiled graphs. One Executor can run many graphs
// concurrently; node invocations of all runs share its worker pool.
type Executor struct {
	pool           *ants.Pool
	ownsPool       bool
	poolSize       int
	maxSteps       int
	defaultTimeout time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) (*Executor, error) {
	e := &Executor{
		poolSize:       defaultPoolSize,
		maxSteps:       defaultMaxSteps,
		defaultTimeout: defaultNodeTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxSteps < 1 {
		return nil, fmt.Errorf("max steps must be at least 1, got %d", e.maxSteps)
	}
	if e.pool == nil {
		if e.poolSize < 1 {
			return nil, fmt.Errorf("pool size must be at least 1, got %d", e.poolSize)
		}
		pool, err := ants.NewPool(e.poolSize)
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
		e.pool = pool
		e.ownsPool = true
	}
	e.logger = e.logger.With().Str("component", "workflow").Logger()
	return e, nil
}

// Close releases the worker pool if the executor created it.
func (e *Executor) Close() {
	if e.ownsPool {
		e.pool.Release()
	}
}

type completion struct {
	node   string
	result Result
}

// run holds the scheduling state of one Executor.Run call. It is only
// touched by the scheduling goroutine.
type run struct {
	e        *Executor
	g        *Graph
	in       RunInput
	bag      *StateBag
	logger   zerolog.Logger
	instr    *Instrumenter
	pending  map[string]int
	ready    []string
	launched map[string]bool
	inflight int
	done     chan completion
	result   RunResult
	sinkDone bool
	fatal    error
}

// Run executes g to completion.
//
// It returns OutcomeCompleted once the sink has run and OutcomeCancelled when
// the canceller fired first. Structural problems, critical node failures and
// context expiry are returned as errors.
func (e *Executor) Run(ctx context.Context, g *Graph, in RunInput) (RunResult, error) {
	bag, err := NewStateBag(g.schema, in.Seed)
	if err != nil {
		return RunResult{}, err
	}
	logger := e.logger.With().Str("graph", g.name).Str("run_id", in.RunID.String()).Logger()

	r := &run{
		e:        e,
		g:        g,
		in:       in,
		bag:      bag,
		logger:   logger,
		instr:    NewInstrumenter(in.RunID, in.Sink, logger, e.metrics),
		pending:  make(map[string]int, len(g.preds)),
		ready:    []string{g.entry},
		launched: make(map[string]bool, len(g.order)),
		// Sized to the step limit so late completions never block a worker.
		done: make(chan completion, e.maxSteps),
		result: RunResult{
			Statuses: make(map[string]domain.NodeStatus, len(g.order)),
		},
	}
	for id, n := range g.preds {
		r.pending[id] = n
	}
	ctx = observability.WithRunID(ctx, in.RunID.String())

	cancelCh := in.Canceller.Done()
	cancelled := false

	for {
		if !cancelled && in.Canceller.Cancelled() {
			cancelled = true
		}
		if !cancelled {
			r.launchReady(ctx)
			// launchReady may have observed the flag itself.
			cancelled = in.Canceller.Cancelled()
		}
		if r.inflight == 0 {
			break
		}

		select {
		case c := <-r.done:
			r.inflight--
			r.complete(c)
		case <-cancelCh:
			cancelCh = nil
			if !cancelled {
				cancelled = true
				logger.Info().Int("in_flight", r.inflight).Msg("cancellation requested, waiting for in-flight nodes")
			}
		case <-ctx.Done():
			r.result.State = bag.View()
			return r.result, fmt.Errorf("workflow %q interrupted: %w", g.name, ctx.Err())
		}
	}

	r.result.State = bag.View()
	if g.loop != nil && r.launched[g.loop.Node] {
		e.metrics.RecordEnrichmentPasses(r.result.LoopPasses)
	}

	switch {
	case r.fatal != nil:
		return r.result, r.fatal
	case r.sinkDone:
		r.result.Outcome = OutcomeCompleted
		return r.result, nil
	case cancelled:
		logger.Info().Int("steps", r.result.Steps).Msg("run cancelled before reaching sink")
		r.result.Outcome = OutcomeCancelled
		return r.result, nil
	default:
		return r.result, fmt.Errorf("%w: sink %q unreachable from the executed branches", ErrStructural, g.sink)
	}
}

// launchReady dispatches every ready node unless the run is finishing.
func (r *run) launchReady(ctx context.Context) {
	for len(r.ready) > 0 && r.fatal == nil && !r.sinkDone {
		if r.in.Canceller.Cancelled() {
			return
		}
		id := r.ready[0]
		r.ready = r.ready[1:]

		if r.result.Steps >= r.e.maxSteps {
			r.fatal = fmt.Errorf("%w: step limit %d exceeded", ErrStructural, r.e.maxSteps)
			return
		}
		isLoop := r.g.loop != nil && r.g.loop.Node == id
		if r.launched[id] && !isLoop {
			r.fatal = fmt.Errorf("%w: node %q scheduled twice", ErrStructural, id)
			return
		}
		r.launched[id] = true
		r.result.Steps++

		spec := r.g.nodes[id]
		node := r.instr.Wrap(id, &guard{
			spec:           spec,
			defaultTimeout: r.e.defaultTimeout,
			logger:         r.logger,
			metrics:        r.e.metrics,
		})
		view := r.bag.View()
		nodeCtx := observability.WithNode(ctx, id)
		done := r.done
		if err := r.e.pool.Submit(func() {
			done <- completion{node: id, result: node.Execute(nodeCtx, view)}
		}); err != nil {
			r.fatal = fmt.Errorf("dispatch node %q: %w", id, err)
			return
		}
		r.inflight++
	}
}

// complete merges a node result and schedules its successors.
func (r *run) complete(c completion) {
	spec := r.g.nodes[c.node]
	res := c.result

	status, update, err := r.settle(spec, res)
	if err == nil {
		err = r.bag.Apply(c.node, update)
	}
	if err != nil {
		r.setFatal(err)
		return
	}
	r.result.Statuses[c.node] = status
	r.result.Completed = append(r.result.Completed, c.node)

	if res.failed() && spec.opts.Criticality == Critical {
		r.setFatal(fmt.Errorf("%w: %q: %w", ErrCriticalNode, c.node, res.Err))
		return
	}

	loop := r.g.loop
	isLoop := loop != nil && loop.Node == c.node
	if isLoop {
		r.result.LoopPasses++
		if err := r.bag.Apply(c.node, Update{loop.CounterField: r.result.LoopPasses}); err != nil {
			r.setFatal(err)
			return
		}
	}

	view := r.bag.View()
	if r.in.OnNodeDone != nil {
		r.in.OnNodeDone(c.node, status, view)
	}

	if c.node == r.g.sink {
		r.sinkDone = true
		return
	}
	if r.fatal != nil {
		return
	}

	switch {
	case isLoop:
		gap := gapRatio(view, loop.GapField)
		exhausted := loop.ExhaustedField != "" && Value[bool](view, loop.ExhaustedField)
		again := !res.failed() && !exhausted && gap > loop.Threshold && r.result.LoopPasses < loop.MaxPasses
		r.logger.Debug().
			Str("node", c.node).
			Int("pass", r.result.LoopPasses).
			Float64("gap_ratio", gap).
			Bool("exhausted", exhausted).
			Bool("repeat", again).
			Msg("loop pass finished")
		if again {
			r.ready = append(r.ready, c.node)
		} else {
			r.ready = append(r.ready, loop.Exit)
		}
	case r.g.conds[c.node].router != nil:
		target, err := route(r.g.conds[c.node], view)
		if err != nil {
			r.setFatal(fmt.Errorf("%w: conditional edge from %q: %w", ErrStructural, c.node, err))
			return
		}
		r.ready = append(r.ready, target)
	default:
		for _, next := range r.g.succ[c.node] {
			r.pending[next]--
			if r.pending[next] == 0 {
				r.ready = append(r.ready, next)
			}
		}
	}
}

// settle turns a node result into the status and update to merge. Failures
// merge only the status entry and a warning; the node's own update is dropped.
func (r *run) settle(spec *nodeSpec, res Result) (domain.NodeStatus, Update, error) {
	if res.failed() {
		status := domain.NodeStatusFailed
		if spec.opts.Criticality == NonCritical {
			status = domain.NodeStatusSkipped
		}
		reason := "node reported failure"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		r.logger.Warn().Str("node", spec.id).Str("criticality", spec.opts.Criticality.String()).Str("reason", reason).Msg("node failed")

		u := Update{}
		if r.g.statusField != "" {
			u[r.g.statusField] = map[string]domain.NodeStatus{spec.id: status}
		}
		if r.g.warningsField != "" && spec.opts.Criticality != NonCritical {
			u[r.g.warningsField] = []string{fmt.Sprintf("%s failed: %s", spec.id, reason)}
		}
		return status, u, nil
	}

	status := res.Status
	if status == "" {
		status = domain.NodeStatusCompleted
	}
	if !status.Valid() {
		return "", nil, fmt.Errorf("%w: node %q returned unknown status %q", ErrStructural, spec.id, status)
	}

	u := make(Update, len(res.Update)+1)
	for key, v := range res.Update {
		if !spec.writes(key) {
			return "", nil, fmt.Errorf("%w: node %q wrote undeclared field %q", ErrStructural, spec.id, key)
		}
		u[key] = v
	}
	if r.g.statusField != "" {
		u[r.g.statusField] = map[string]domain.NodeStatus{spec.id: status}
	}
	return status, u, nil
}

func (r *run) setFatal(err error) {
	if r.fatal == nil {
		r.fatal = err
		r.logger.Error().Err(err).Msg("run aborted")
	}
}

func (s *nodeSpec) writes(field string) bool {
	for _, f := range s.opts.Writes {
		if f == field {
			return true
		}
	}
	return false
}

// route evaluates a conditional edge. A router that panics or returns an
// unknown label is a structural error.
func route(c conditional, view View) (target string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("router panicked: %v", p)
		}
	}()
	label := c.router(view)
	target, ok := c.paths[label]
	if !ok {
		return "", fmt.Errorf("router returned unknown label %q", label)
	}
	return target, nil
}

// gapRatio reads the loop's gap field. A missing value counts as no gap.
func gapRatio(view View, field string) float64 {
	switch v := view[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}
