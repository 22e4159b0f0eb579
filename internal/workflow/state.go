package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrStructural marks failures caused by a mis-authored graph or state
	// schema. They abort the run instead of being isolated to one node.
	ErrStructural = errors.New("structural failure")

	// ErrUnknownField is returned when an update touches an undeclared field.
	ErrUnknownField = fmt.Errorf("%w: unknown state field", ErrStructural)
)

// Update is a partial state write produced by a node.
type Update map[string]any

// View is a read-only snapshot of a StateBag. Values are shared with the
// bag and must not be modified.
type View map[string]any

// Lookup returns the value of field converted to T.
func Lookup[T any](v View, field string) (T, bool) {
	raw, ok := v[field]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := raw.(T)
	return typed, ok
}

// Value returns the value of field as T, or the zero value when the field is
// unset or holds another type.
func Value[T any](v View, field string) T {
	typed, _ := Lookup[T](v, field)
	return typed
}

// Field declares one state field and its merge policy.
type Field struct {
	Name    string
	Reducer ReducerKind
}

// Schema is the registry of state fields and their reducers. It is built
// once per graph and is immutable once the graph has been compiled.
type Schema struct {
	fields map[string]Field
	order  []string
	errs   []error
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// Declare registers a field. Duplicate or empty names are reported by Validate.
func (s *Schema) Declare(name string, kind ReducerKind) *Schema {
	switch {
	case name == "":
		s.errs = append(s.errs, errors.New("field name must not be empty"))
	case s.has(name):
		s.errs = append(s.errs, fmt.Errorf("field %q declared twice", name))
	default:
		if _, err := reducerFor(kind); err != nil {
			s.errs = append(s.errs, fmt.Errorf("field %q: %w", name, err))
			return s
		}
		s.fields[name] = Field{Name: name, Reducer: kind}
		s.order = append(s.order, name)
	}
	return s
}

func (s *Schema) has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Field returns the declaration of name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns all declarations in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Validate reports declaration errors collected by Declare.
func (s *Schema) Validate() error {
	return errors.Join(s.errs...)
}

// seedWriter owns the values a StateBag is created with.
const seedWriter = ""

// StateBag is the typed, reducer-mediated state shared by the nodes of a run.
//
// Contributions to accumulating fields are kept per writer and folded in
// writer-name order when read, so the merged value does not depend on the
// order in which concurrent writers finished. Apply is safe for concurrent use.
type StateBag struct {
	mu        sync.RWMutex
	schema    *Schema
	overwrite map[string]any
	segments  map[string]map[string]any
	cache     map[string]any
}

// NewStateBag creates a bag over schema seeded with the given values.
func NewStateBag(schema *Schema, seed Update) (*StateBag, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructural, err)
	}
	b := &StateBag{
		schema:    schema,
		overwrite: make(map[string]any),
		segments:  make(map[string]map[string]any),
		cache:     make(map[string]any),
	}
	if err := b.Apply(seedWriter, seed); err != nil {
		return nil, err
	}
	return b, nil
}

// Schema returns the schema the bag was created with.
func (b *StateBag) Schema() *Schema {
	return b.schema
}

// Apply merges u into the bag on behalf of writer. The update is applied
// atomically: if any field is unknown or fails to merge, nothing changes.
func (b *StateBag) Apply(writer string, u Update) error {
	if len(u) == 0 {
		return nil
	}
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[string]any, len(u))
	for _, key := range keys {
		field, ok := b.schema.Field(key)
		if !ok {
			return fmt.Errorf("%w %q (written by %q)", ErrUnknownField, key, writer)
		}
		if !field.Reducer.Accumulating() {
			staged[key] = u[key]
			continue
		}
		reduce, err := reducerFor(field.Reducer)
		if err != nil {
			return fmt.Errorf("%w: field %q: %w", ErrStructural, key, err)
		}
		merged, err := reduce(b.segments[key][writer], u[key])
		if err != nil {
			return fmt.Errorf("%w: field %q (written by %q): %w", ErrStructural, key, writer, err)
		}
		if current, ok := b.get(key); ok {
			if _, err := reduce(current, merged); err != nil {
				return fmt.Errorf("%w: field %q (written by %q): %w", ErrStructural, key, writer, err)
			}
		}
		staged[key] = merged
	}

	for key, v := range staged {
		field, _ := b.schema.Field(key)
		if !field.Reducer.Accumulating() {
			b.overwrite[key] = v
			continue
		}
		if b.segments[key] == nil {
			b.segments[key] = make(map[string]any)
		}
		b.segments[key][writer] = v
		delete(b.cache, key)
	}
	return nil
}

// Get returns the current merged value of field.
func (b *StateBag) Get(field string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(field)
}

func (b *StateBag) get(field string) (any, bool) {
	f, ok := b.schema.Field(field)
	if !ok {
		return nil, false
	}
	if !f.Reducer.Accumulating() {
		v, ok := b.overwrite[field]
		return v, ok
	}
	if v, ok := b.cache[field]; ok {
		return v, true
	}
	segs := b.segments[field]
	if len(segs) == 0 {
		return nil, false
	}
	writers := make([]string, 0, len(segs))
	for w := range segs {
		writers = append(writers, w)
	}
	sort.Strings(writers)

	// Segments were validated on Apply, so folding cannot fail on type grounds.
	reduce, _ := reducerFor(f.Reducer)
	var acc any
	for _, w := range writers {
		merged, err := reduce(acc, segs[w])
		if err != nil {
			return nil, false
		}
		acc = merged
	}
	b.cache[field] = acc
	return acc, true
}

// View returns a snapshot of every field that currently holds a value.
func (b *StateBag) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := make(View, len(b.schema.order))
	for _, name := range b.schema.order {
		if val, ok := b.get(name); ok {
			v[name] = val
		}
	}
	return v
}
