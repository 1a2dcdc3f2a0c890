package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrSuperseded is returned to a search whose result was overtaken by a newer
// invocation on the same coordinator.
var ErrSuperseded = errors.New("search superseded by a newer query")

// DefaultDebounce is the quiet period before the upstream call is issued.
const DefaultDebounce = 300 * time.Millisecond

// Func performs the upstream lookup.
type Func[T any] func(ctx context.Context, term string) ([]T, error)

// Coordinator debounces free-text lookups and applies last-write-wins by
// issuance order. Each call receives a generation token; a newer call cancels
// the context of every older one and older results are discarded.
type Coordinator[T any] struct {
	Search       Func[T]
	Debounce     time.Duration
	OnSuperseded func()

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// New constructs a coordinator around fn.
func New[T any](fn Func[T], debounce time.Duration) *Coordinator[T] {
	return &Coordinator[T]{Search: fn, Debounce: debounce}
}

func (c *Coordinator[T]) debounce() time.Duration {
	if c.Debounce < 0 {
		return 0
	}
	if c.Debounce == 0 {
		return DefaultDebounce
	}
	return c.Debounce
}

// Do runs a search for term. Blank terms resolve to no results without an
// upstream call. There is no retry: upstream errors are returned as is.
func (c *Coordinator[T]) Do(ctx context.Context, term string) ([]T, error) {
	term = strings.TrimSpace(term)

	c.mu.Lock()
	c.gen++
	token := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	if term == "" {
		return nil, nil
	}

	timer := time.NewTimer(c.debounce())
	defer timer.Stop()
	select {
	case <-sctx.Done():
		if !c.latest(token) {
			return nil, c.superseded()
		}
		return nil, sctx.Err()
	case <-timer.C:
	}

	if !c.latest(token) {
		return nil, c.superseded()
	}
	if c.Search == nil {
		return nil, errors.New("search func not configured")
	}
	results, err := c.Search(sctx, term)
	if !c.latest(token) {
		return nil, c.superseded()
	}
	return results, err
}

// Generation returns the token of the most recent call.
func (c *Coordinator[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Cancel aborts any pending search.
func (c *Coordinator[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator[T]) latest(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return token == c.gen
}

func (c *Coordinator[T]) superseded() error {
	if c.OnSuperseded != nil {
		c.OnSuperseded()
	}
	return ErrSuperseded
}
