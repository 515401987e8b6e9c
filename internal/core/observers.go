package core

import (
	"slices"
	"sync"
)

// Observers is a threadsafe list of callbacks. Emit runs them outside the lock
// so a callback may register or unregister others.
type Observers[T any] struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(T)
}

// Add registers fn and returns a func that removes it. The remover is idempotent.
func (o *Observers[T]) Add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[uint64]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *Observers[T]) Emit(v T) {
	for _, fn := range o.snapshot() {
		fn(v)
	}
}

func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.fns)
}

func (o *Observers[T]) Clear() {
	o.mu.Lock()
	o.fns = nil
	o.mu.Unlock()
}

// snapshot returns callbacks in registration order.
func (o *Observers[T]) snapshot() []func(T) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]uint64, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, o.fns[id])
	}
	return out
}
