package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spoton/recommendation-service/internal/domain"
)

const (
	fStatuses = "statuses"
	fWarnings = "warnings"
	fItems    = "items"
	fMerged   = "merged"
	fSkip     = "skip"
	fGap      = "gap"
	fPasses   = "passes"
	fDone     = "done"
	fOut      = "out"
)

var fanOut = []string{"a", "b", "c", "d"}

func testSchema() *Schema {
	return NewSchema().
		Declare(fStatuses, DictUnion).
		Declare(fWarnings, Append).
		Declare(fItems, Append).
		Declare(fMerged, Overwrite).
		Declare(fSkip, Overwrite).
		Declare(fGap, Overwrite).
		Declare(fPasses, Overwrite).
		Declare(fDone, Overwrite).
		Declare(fOut, Overwrite)
}

// recorder counts node invocations and remembers their order.
type recorder struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
}

func newRecorder() *recorder {
	return &recorder{counts: map[string]int{}}
}

func (r *recorder) wrap(id string, node Node) Node {
	return NodeFunc(func(ctx context.Context, state View) Result {
		r.mu.Lock()
		r.counts[id]++
		r.order = append(r.order, id)
		r.mu.Unlock()
		return node.Execute(ctx, state)
	})
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

// pipeline builds the test graph
//
//	parse -> {a,b,c,d} -> join -> (skip ? split : enrich) ; enrich loops -> split -> report
type pipeline struct {
	nodes     map[string]Node
	opts      map[string]NodeOptions
	threshold float64
	maxPasses int
	rec       *recorder
}

func newPipeline() *pipeline {
	p := &pipeline{
		nodes:     map[string]Node{},
		opts:      map[string]NodeOptions{},
		threshold: 0.5,
		maxPasses: 2,
		rec:       newRecorder(),
	}
	p.nodes["parse"] = NodeFunc(func(context.Context, View) Result { return Completed(nil) })
	for _, id := range fanOut {
		id := id
		p.nodes[id] = NodeFunc(func(context.Context, View) Result {
			return Completed(Update{fItems: []string{id}})
		})
		p.opts[id] = NodeOptions{Writes: []string{fItems, fWarnings}}
	}
	p.nodes["join"] = NodeFunc(func(_ context.Context, state View) Result {
		return Completed(Update{fMerged: append([]string(nil), Value[[]string](state, fItems)...)})
	})
	p.opts["join"] = NodeOptions{Writes: []string{fMerged}}
	p.nodes["enrich"] = NodeFunc(func(context.Context, View) Result {
		return Completed(Update{fGap: 0.0})
	})
	p.opts["enrich"] = NodeOptions{Writes: []string{fGap, fDone, fWarnings}}
	p.nodes["split"] = NodeFunc(func(context.Context, View) Result { return Completed(nil) })
	p.nodes["report"] = NodeFunc(func(_ context.Context, state View) Result {
		return Completed(Update{fOut: len(Value[[]string](state, fMerged))})
	})
	p.opts["report"] = NodeOptions{Writes: []string{fOut}}
	return p
}

func (p *pipeline) builder() *Builder {
	b := NewBuilder("test", testSchema())
	for _, id := range []string{"parse", "a", "b", "c", "d", "join", "enrich", "split", "report"} {
		b.AddNode(id, p.rec.wrap(id, p.nodes[id]), p.opts[id])
	}
	for _, id := range fanOut {
		b.AddEdge("parse", id)
		b.AddEdge(id, "join")
	}
	b.AddConditionalEdge("join", func(state View) string {
		if Value[bool](state, fSkip) {
			return "skip"
		}
		return "enrich"
	}, map[string]string{"skip": "split", "enrich": "enrich"})
	b.SetLoop(LoopSpec{
		Node:           "enrich",
		Exit:           "split",
		CounterField:   fPasses,
		GapField:       fGap,
		ExhaustedField: fDone,
		Threshold:      p.threshold,
		MaxPasses:      p.maxPasses,
	})
	b.AddEdge("split", "report")
	b.SetEntry("parse").SetSink("report").TrackStatuses(fStatuses, fWarnings)
	return b
}

func (p *pipeline) compile(t *testing.T) *Graph {
	t.Helper()
	g, err := p.builder().Compile()
	require.NoError(t, err)
	return g
}

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(append([]Option{WithPoolSize(8), WithDefaultTimeout(2 * time.Second)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// memorySink records node events in delivery order.
type memorySink struct {
	mu       sync.Mutex
	events   []domain.NodeEvent
	progress map[string]domain.NodeEvent
	err      error
}

func newMemorySink() *memorySink {
	return &memorySink{progress: map[string]domain.NodeEvent{}}
}

func (s *memorySink) AppendEvent(_ context.Context, _ uuid.UUID, ev domain.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *memorySink) SetNodeProgress(_ context.Context, _ uuid.UUID, node string, ev domain.NodeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[node] = ev
	return s.err
}

func (s *memorySink) phases(node string) []domain.NodePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NodePhase
	for _, ev := range s.events {
		if ev.Node == node {
			out = append(out, ev.Phase)
		}
	}
	return out
}
