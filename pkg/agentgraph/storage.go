package agentgraph

import (
	"reflect"
	"strings"
	"sync"
)

// Key is a typed handle on a Storage entry. Keys with the same name but
// different types address different entries.
type Key[T any] struct {
	name string
}

// NewKey creates a storage key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name.
func (k Key[T]) Name() string { return k.name }

type storageKey struct {
	name string
	typ  reflect.Type
}

func (k Key[T]) id() storageKey {
	return storageKey{name: k.name, typ: typeOf[T]()}
}

// Storage is a concurrent key-value store that features and nodes use to
// keep agent-scoped data between steps and runs. It is not checkpointed.
type Storage struct {
	mu     sync.RWMutex
	values map[storageKey]any
}

// NewStorage creates an empty Storage.
func NewStorage() *Storage {
	return &Storage{values: make(map[storageKey]any)}
}

// Set stores v under key.
func Set[T any](s *Storage, key Key[T], v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key.id()] = v
}

// Get returns the value stored under key.
func Get[T any](s *Storage, key Key[T]) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key.id()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Remove deletes the value stored under key.
func Remove[T any](s *Storage, key Key[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key.id())
}

// Len returns the number of stored values.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Clear removes every value.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}

// NodeState returns the state object of the current node for the current
// run, creating it with init on first use. Use it instead of capturing
// mutable variables in node closures, which would leak state between runs
// of a shared Strategy.
//
// Outside a run, NodeState returns a fresh object on every call.
func NodeState[T any](ctx Context, init func() T) *T {
	ec, ok := ctx.(*executionContext)
	if !ok || ec.run == nil {
		v := init()
		return &v
	}
	key := strings.Join(ec.path, "/") + "#" + typeOf[T]().String()

	ec.run.mu.Lock()
	defer ec.run.mu.Unlock()
	if v, ok := ec.run.nodeState[key]; ok {
		return v.(*T)
	}
	v := init()
	ec.run.nodeState[key] = &v
	return &v
}
