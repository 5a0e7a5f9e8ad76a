package jobs

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is a goroutine-safe table of submitted batches keyed by handle.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[Handle]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[Handle]T)}
}

// Add stores value under a fresh handle.
func (r *Registry[T]) Add(value T) Handle {
	handle := Handle(uuid.NewString())
	r.mu.Lock()
	r.entries[handle] = value
	r.mu.Unlock()
	return handle
}

// Get returns the value for handle or ErrUnknownHandle.
func (r *Registry[T]) Get(handle Handle) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.entries[handle]
	if !ok {
		var zero T
		return zero, ErrUnknownHandle
	}
	return value, nil
}

// Remove forgets handle. Later lookups return ErrUnknownHandle.
func (r *Registry[T]) Remove(handle Handle) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

// Len reports the number of tracked handles.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
