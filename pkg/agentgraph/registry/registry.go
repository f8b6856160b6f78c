package registry

import (
	"iter"
	"slices"
	"sync"
)

// Registry maps keys to values and remembers the order keys were first
// added in.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	index map[K]int
	keys  []K
	vals  []V
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{index: make(map[K]int)}
}

// Add stores value under key unless key is taken. It reports whether the
// value was stored.
func (r *Registry[K, V]) Add(key K, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.index[key]; taken {
		return false
	}
	r.append(key, value)
	return true
}

// Set stores value under key. A replaced value keeps its position.
func (r *Registry[K, V]) Set(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.vals[i] = value
		return
	}
	r.append(key, value)
}

func (r *Registry[K, V]) append(key K, value V) {
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.vals = append(r.vals, value)
}

// Get returns the value under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return r.vals[i], true
}

// Len returns the number of keys.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Keys returns the keys in order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.keys)
}

// Values returns the values in key order.
func (r *Registry[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.vals)
}

// All iterates over a snapshot of the entries in order, so the loop body
// may modify the registry.
func (r *Registry[K, V]) All() iter.Seq2[K, V] {
	r.mu.RLock()
	keys, vals := slices.Clone(r.keys), slices.Clone(r.vals)
	r.mu.RUnlock()
	return func(yield func(K, V) bool) {
		for i, k := range keys {
			if !yield(k, vals[i]) {
				return
			}
		}
	}
}

// Subset returns a registry holding the entries whose key is in keys,
// ordered as in r. Unknown keys are ignored.
func (r *Registry[K, V]) Subset(keys ...K) *Registry[K, V] {
	out := New[K, V]()
	for k, v := range r.All() {
		if slices.Contains(keys, k) {
			out.append(k, v)
		}
	}
	return out
}
