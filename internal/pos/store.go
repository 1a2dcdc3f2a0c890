package pos

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("billing session not found")

// Store persists billing sessions. Update serialises mutations of one
// session; when fn returns an error the stored session is left unchanged.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory. Sessions expire TTL after
// their last update.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	session *Session
	expires time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{TTL: ttl, sessions: map[string]*memoryEntry{}}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) expiry(now time.Time) time.Time {
	if m.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(m.TTL)
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]*memoryEntry{}
	}
	now := m.now()
	m.sweepLocked(now)
	m.sessions[s.ID] = &memoryEntry{session: s.Clone(), expires: m.expiry(now)}
	return nil
}

func (m *MemoryStore) entry(id string) (*memoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) (*Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrSessionNotFound
	}
	work := e.session.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	now := m.now()
	work.UpdatedAt = now
	e.session = work
	e.expires = m.expiry(now)
	return work.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
	return nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return len(m.sessions)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for id, e := range m.sessions {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.sessions, id)
		}
	}
}
