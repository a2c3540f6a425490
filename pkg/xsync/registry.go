package xsync

import (
	"sort"
	"sync"
)

// Registry is a concurrency safe collection that hands out a handle for
// every value it stores. Values are returned in insertion order.
type Registry[V any] struct {
	mu   sync.RWMutex
	next uint64
	m    map[uint64]V
}

func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{
		m: make(map[uint64]V),
	}
}

// Add stores v and returns the handle needed to remove it.
func (r *Registry[V]) Add(v V) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.m[r.next] = v
	return r.next
}

func (r *Registry[V]) Remove(id uint64) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *Registry[V]) Exists(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[id]
	return ok
}

func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Snapshot copies the current values so callers can iterate without holding the lock.
func (r *Registry[V]) Snapshot() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.m))
	for id := range r.m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	values := make([]V, 0, len(ids))
	for _, id := range ids {
		values = append(values, r.m[id])
	}
	return values
}
