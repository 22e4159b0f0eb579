package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidGraph is returned by Compile when a graph declaration is
// inconsistent. It is a structural error.
var ErrInvalidGraph = fmt.Errorf("%w: invalid graph", ErrStructural)

// Router picks the label of the next edge from the current state. It must
// not mutate the view.
type Router func(state View) string

// NodeOptions configures how the executor runs one node.
type NodeOptions struct {
	// Writes lists the state fields the node may update.
	Writes []string

	// Timeout bounds one attempt. Zero uses the executor default.
	Timeout time.Duration

	// Criticality decides what a failure does to the run.
	Criticality Criticality

	// Retry configures retries of transient failures.
	Retry RetryPolicy
}

// LoopSpec declares the single bounded self-loop of a graph.
//
// After every pass of Node the executor increments CounterField and reads the
// gap ratio from GapField. The node runs again only while the ratio is above
// Threshold and fewer than MaxPasses passes have run; otherwise Exit runs.
// When ExhaustedField is set and holds true after a pass, the loop exits
// regardless of the gap.
type LoopSpec struct {
	Node           string
	Exit           string
	CounterField   string
	GapField       string
	ExhaustedField string
	Threshold      float64
	MaxPasses      int
}

type conditional struct {
	router Router
	paths  map[string]string
}

type nodeSpec struct {
	id   string
	node Node
	opts NodeOptions
}

// Builder assembles a Graph. Errors are collected and reported by Compile.
type Builder struct {
	name          string
	schema        *Schema
	nodes         map[string]*nodeSpec
	order         []string
	edges         map[string][]string
	conds         map[string]conditional
	loop          *LoopSpec
	entry         string
	sink          string
	statusField   string
	warningsField string
	errs          []error
}

// NewBuilder starts a graph over schema.
func NewBuilder(name string, schema *Schema) *Builder {
	return &Builder{
		name:   name,
		schema: schema,
		nodes:  make(map[string]*nodeSpec),
		edges:  make(map[string][]string),
		conds:  make(map[string]conditional),
	}
}

func (b *Builder) errorf(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// AddNode registers node under id.
func (b *Builder) AddNode(id string, node Node, opts NodeOptions) *Builder {
	switch {
	case id == "":
		b.errorf("node id must not be empty")
	case node == nil:
		b.errorf("node %q is nil", id)
	case b.nodes[id] != nil:
		b.errorf("node %q added twice", id)
	default:
		b.nodes[id] = &nodeSpec{id: id, node: node, opts: opts}
		b.order = append(b.order, id)
	}
	return b
}

// AddEdge adds a static edge. A node with several static predecessors is a
// join and runs once all of them have finished.
func (b *Builder) AddEdge(from, to string) *Builder {
	for _, existing := range b.edges[from] {
		if existing == to {
			b.errorf("edge %s -> %s added twice", from, to)
			return b
		}
	}
	b.edges[from] = append(b.edges[from], to)
	return b
}

// AddConditionalEdge routes from a node to exactly one of paths, chosen by
// router once the node has finished.
func (b *Builder) AddConditionalEdge(from string, router Router, paths map[string]string) *Builder {
	if _, dup := b.conds[from]; dup {
		b.errorf("node %q has two conditional edges", from)
		return b
	}
	if router == nil || len(paths) == 0 {
		b.errorf("conditional edge from %q needs a router and at least one path", from)
		return b
	}
	copied := make(map[string]string, len(paths))
	for label, target := range paths {
		copied[label] = target
	}
	b.conds[from] = conditional{router: router, paths: copied}
	return b
}

// SetLoop declares the bounded self-loop.
func (b *Builder) SetLoop(spec LoopSpec) *Builder {
	if b.loop != nil {
		b.errorf("graph declares more than one loop")
		return b
	}
	b.loop = &spec
	return b
}

// SetEntry designates the first node.
func (b *Builder) SetEntry(id string) *Builder {
	b.entry = id
	return b
}

// SetSink designates the terminal node.
func (b *Builder) SetSink(id string) *Builder {
	b.sink = id
	return b
}

// TrackStatuses makes the executor record each node's terminal status in
// statusField (a dict-union map of node id to domain.NodeStatus) and failure
// warnings in warningsField (an append []string).
func (b *Builder) TrackStatuses(statusField, warningsField string) *Builder {
	b.statusField = statusField
	b.warningsField = warningsField
	return b
}

// Graph is a compiled, immutable workflow definition. It can be executed any
// number of times.
type Graph struct {
	name          string
	schema        *Schema
	nodes         map[string]*nodeSpec
	order         []string
	succ          map[string][]string
	preds         map[string]int
	conds         map[string]conditional
	loop          *LoopSpec
	entry         string
	sink          string
	statusField   string
	warningsField string
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *Schema { return g.schema }

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// Sink returns the sink node id.
func (g *Graph) Sink() string { return g.sink }

// Nodes returns node ids in registration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Predecessors returns the number of static predecessors of id.
func (g *Graph) Predecessors(id string) int { return g.preds[id] }

// Loop returns the loop declaration, if any.
func (g *Graph) Loop() (LoopSpec, bool) {
	if g.loop == nil {
		return LoopSpec{}, false
	}
	return *g.loop, true
}

// Compile validates the declaration and returns the executable graph.
// Every error wraps ErrInvalidGraph.
func (b *Builder) Compile() (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	if b.schema == nil {
		return nil, fmt.Errorf("%w: graph %q has no schema", ErrInvalidGraph, b.name)
	}
	if err := b.schema.Validate(); err != nil {
		errs = append(errs, err)
	}

	g := &Graph{
		name:          b.name,
		schema:        b.schema,
		nodes:         b.nodes,
		order:         append([]string(nil), b.order...),
		succ:          make(map[string][]string),
		preds:         make(map[string]int),
		conds:         b.conds,
		loop:          b.loop,
		entry:         b.entry,
		sink:          b.sink,
		statusField:   b.statusField,
		warningsField: b.warningsField,
	}

	known := func(id string) bool { return b.nodes[id] != nil }

	if !known(b.entry) {
		errs = append(errs, fmt.Errorf("entry node %q is not registered", b.entry))
	}
	if !known(b.sink) {
		errs = append(errs, fmt.Errorf("sink node %q is not registered", b.sink))
	}

	for from, tos := range b.edges {
		if !known(from) {
			errs = append(errs, fmt.Errorf("edge source %q is not registered", from))
			continue
		}
		for _, to := range tos {
			if !known(to) {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets an unregistered node", from, to))
				continue
			}
			if to == from {
				errs = append(errs, fmt.Errorf("static self-edge on %q; use SetLoop", from))
				continue
			}
			g.succ[from] = append(g.succ[from], to)
			g.preds[to]++
		}
	}

	// Nodes entered dynamically must not also wait on static predecessors.
	dynamic := map[string]string{}
	for from, c := range b.conds {
		if !known(from) {
			errs = append(errs, fmt.Errorf("conditional edge source %q is not registered", from))
			continue
		}
		if len(b.edges[from]) > 0 {
			errs = append(errs, fmt.Errorf("node %q has both static and conditional edges", from))
		}
		for label, target := range c.paths {
			if !known(target) {
				errs = append(errs, fmt.Errorf("conditional edge %s[%s] targets unregistered node %q", from, label, target))
				continue
			}
			dynamic[target] = from
		}
	}

	if l := b.loop; l != nil {
		switch {
		case !known(l.Node):
			errs = append(errs, fmt.Errorf("loop node %q is not registered", l.Node))
		case !known(l.Exit):
			errs = append(errs, fmt.Errorf("loop exit %q is not registered", l.Exit))
		case len(b.edges[l.Node]) > 0 || b.conds[l.Node].router != nil:
			errs = append(errs, fmt.Errorf("loop node %q must not declare other outgoing edges", l.Node))
		default:
			dynamic[l.Exit] = l.Node
		}
		if l.MaxPasses < 1 {
			errs = append(errs, fmt.Errorf("loop max passes must be at least 1, got %d", l.MaxPasses))
		}
		if l.Threshold < 0 || l.Threshold > 1 {
			errs = append(errs, fmt.Errorf("loop threshold must be within [0,1], got %v", l.Threshold))
		}
		fields := []string{l.CounterField, l.GapField}
		if l.ExhaustedField != "" {
			fields = append(fields, l.ExhaustedField)
		}
		for _, f := range fields {
			if field, ok := b.schema.Field(f); !ok || field.Reducer != Overwrite {
				errs = append(errs, fmt.Errorf("loop field %q must be a declared overwrite field", f))
			}
		}
	}

	for target, from := range dynamic {
		if g.preds[target] > 0 {
			errs = append(errs, fmt.Errorf("node %q is entered from %q dynamically and must not have static predecessors", target, from))
		}
	}
	if g.preds[b.entry] > 0 {
		errs = append(errs, fmt.Errorf("entry node %q must not have predecessors", b.entry))
	}

	if b.statusField != "" {
		if f, ok := b.schema.Field(b.statusField); !ok || f.Reducer != DictUnion {
			errs = append(errs, fmt.Errorf("status field %q must be a declared dict-union field", b.statusField))
		}
	}
	if b.warningsField != "" {
		if f, ok := b.schema.Field(b.warningsField); !ok || f.Reducer != Append {
			errs = append(errs, fmt.Errorf("warnings field %q must be a declared append field", b.warningsField))
		}
	}
	for _, id := range b.order {
		for _, f := range b.nodes[id].opts.Writes {
			if _, ok := b.schema.Field(f); !ok {
				errs = append(errs, fmt.Errorf("node %q writes undeclared field %q", id, f))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGraph, b.name, errors.Join(errs...))
	}

	if err := g.checkTopology(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGraph, b.name, err)
	}
	if err := g.checkOverwriteWriters(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGraph, b.name, err)
	}
	return g, nil
}

// next returns every node that may follow id, ignoring the loop self-edge.
func (g *Graph) next(id string) []string {
	out := append([]string(nil), g.succ[id]...)
	if c, ok := g.conds[id]; ok {
		labels := make([]string, 0, len(c.paths))
		for label := range c.paths {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			out = append(out, c.paths[label])
		}
	}
	if g.loop != nil && g.loop.Node == id {
		out = append(out, g.loop.Exit)
	}
	return out
}

// checkTopology verifies the graph is acyclic (apart from the loop
// self-edge), every node is reachable from the entry, the sink is terminal,
// and every other node has a way forward.
func (g *Graph) checkTopology() error {
	indeg := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, n := range g.next(id) {
			indeg[n]++
		}
	}
	queue := []string{}
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, n := range g.next(id) {
			indeg[n]--
			if indeg[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if visited != len(g.order) {
		return errors.New("graph contains a cycle")
	}

	reach := g.reachableFrom(g.entry)
	for _, id := range g.order {
		if !reach[id] {
			return fmt.Errorf("node %q is unreachable from entry %q", id, g.entry)
		}
	}
	if len(g.next(g.sink)) > 0 {
		return fmt.Errorf("sink %q must not have outgoing edges", g.sink)
	}
	for _, id := range g.order {
		if id != g.sink && len(g.next(id)) == 0 {
			return fmt.Errorf("node %q has no outgoing edge and is not the sink", id)
		}
	}
	return nil
}

func (g *Graph) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range g.next(id) {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return seen
}

// checkOverwriteWriters rejects graphs where two nodes that may run
// concurrently both write the same overwrite field.
func (g *Graph) checkOverwriteWriters() error {
	writers := map[string][]string{}
	for _, id := range g.order {
		for _, f := range g.nodes[id].opts.Writes {
			if field, _ := g.schema.Field(f); !field.Reducer.Accumulating() {
				writers[f] = append(writers[f], id)
			}
		}
	}
	reach := make(map[string]map[string]bool, len(g.order))
	for _, id := range g.order {
		reach[id] = g.reachableFrom(id)
	}
	fields := make([]string, 0, len(writers))
	for f := range writers {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		ws := writers[f]
		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				a, b := ws[i], ws[j]
				if !reach[a][b] && !reach[b][a] {
					return fmt.Errorf("overwrite field %q has concurrent writers %q and %q", f, a, b)
				}
			}
		}
	}
	return nil
}
