package search

import (
	"sync"
	"time"
)

// Registry keeps one coordinator per key (billing session or cashier) so each
// search box gets its own last-write-wins ordering.
type Registry[T any] struct {
	New     func() *Coordinator[T]
	IdleTTL time.Duration
	Now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[T]
}

type entry[T any] struct {
	c        *Coordinator[T]
	lastUsed time.Time
}

func (r *Registry[T]) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Get returns the coordinator for key, creating it on first use. Entries idle
// for longer than IdleTTL are dropped.
func (r *Registry[T]) Get(key string) *Coordinator[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]*entry[T])
	}
	now := r.now()
	if r.IdleTTL > 0 {
		for k, e := range r.entries {
			if k != key && now.Sub(e.lastUsed) > r.IdleTTL {
				e.c.Cancel()
				delete(r.entries, k)
			}
		}
	}
	e, ok := r.entries[key]
	if !ok {
		var c *Coordinator[T]
		if r.New != nil {
			c = r.New()
		} else {
			c = &Coordinator[T]{}
		}
		e = &entry[T]{c: c}
		r.entries[key] = e
	}
	e.lastUsed = now
	return e.c
}

// Forget cancels and drops the coordinator for key.
func (r *Registry[T]) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.c.Cancel()
		delete(r.entries, key)
	}
}

// Len returns the number of live coordinators.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
