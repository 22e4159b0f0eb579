package workflow

import (
	"fmt"
	"reflect"
)

// ReducerKind selects how writes to a state field are merged.
type ReducerKind int

const (
	// Overwrite replaces the stored value with the incoming one.
	Overwrite ReducerKind = iota
	// Append concatenates slices.
	Append
	// SetUnion concatenates slices, dropping elements already present.
	SetUnion
	// DictUnion merges maps; on key collision the later write wins.
	DictUnion
)

// String returns the reducer name used in logs and errors.
func (k ReducerKind) String() string {
	switch k {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	case SetUnion:
		return "set-union"
	case DictUnion:
		return "dict-union"
	default:
		return fmt.Sprintf("reducer(%d)", int(k))
	}
}

// Accumulating reports whether concurrent writers may share a field with this reducer.
func (k ReducerKind) Accumulating() bool {
	return k == Append || k == SetUnion || k == DictUnion
}

// reducerFunc merges update into existing. Implementations never modify
// their arguments; they return a freshly allocated container so that views
// handed out earlier stay stable.
type reducerFunc func(existing, update any) (any, error)

var reducers = map[ReducerKind]reducerFunc{
	Overwrite: func(_, update any) (any, error) { return update, nil },
	Append:    appendReducer,
	SetUnion:  setUnionReducer,
	DictUnion: dictUnionReducer,
}

func reducerFor(k ReducerKind) (reducerFunc, error) {
	fn, ok := reducers[k]
	if !ok {
		return nil, fmt.Errorf("unknown reducer %s", k)
	}
	return fn, nil
}

func appendReducer(existing, update any) (any, error) {
	if update == nil {
		return existing, nil
	}
	uv := reflect.ValueOf(update)
	if uv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("append reducer: expected slice, got %T", update)
	}
	if existing == nil {
		out := reflect.MakeSlice(uv.Type(), uv.Len(), uv.Len())
		reflect.Copy(out, uv)
		return out.Interface(), nil
	}
	ev := reflect.ValueOf(existing)
	if ev.Type() != uv.Type() {
		return nil, fmt.Errorf("append reducer: cannot merge %T into %T", update, existing)
	}
	out := reflect.MakeSlice(ev.Type(), 0, ev.Len()+uv.Len())
	out = reflect.AppendSlice(out, ev)
	out = reflect.AppendSlice(out, uv)
	return out.Interface(), nil
}

func setUnionReducer(existing, update any) (any, error) {
	if update == nil {
		return existing, nil
	}
	uv := reflect.ValueOf(update)
	if uv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("set-union reducer: expected slice, got %T", update)
	}
	if !uv.Type().Elem().Comparable() {
		return nil, fmt.Errorf("set-union reducer: element type %s is not comparable", uv.Type().Elem())
	}
	out := reflect.MakeSlice(uv.Type(), 0, uv.Len())
	seen := make(map[any]struct{})
	add := func(v reflect.Value) {
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			key := elem.Interface()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = reflect.Append(out, elem)
		}
	}
	if existing != nil {
		ev := reflect.ValueOf(existing)
		if ev.Type() != uv.Type() {
			return nil, fmt.Errorf("set-union reducer: cannot merge %T into %T", update, existing)
		}
		add(ev)
	}
	add(uv)
	return out.Interface(), nil
}

func dictUnionReducer(existing, update any) (any, error) {
	if update == nil {
		return existing, nil
	}
	uv := reflect.ValueOf(update)
	if uv.Kind() != reflect.Map {
		return nil, fmt.Errorf("dict-union reducer: expected map, got %T", update)
	}
	out := reflect.MakeMap(uv.Type())
	if existing != nil {
		ev := reflect.ValueOf(existing)
		if ev.Type() != uv.Type() {
			return nil, fmt.Errorf("dict-union reducer: cannot merge %T into %T", update, existing)
		}
		iter := ev.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
	}
	iter := uv.MapRange()
	for iter.Next() {
		out.SetMapIndex(iter.Key(), iter.Value())
	}
	return out.Interface(), nil
}
