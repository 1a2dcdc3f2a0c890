package reconcile

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory, newest last.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[string]int{}}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[rec.SaleID]; ok {
		return nil
	}
	m.index[rec.SaleID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, saleID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[saleID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.records[i], nil
}

// List returns up to limit records, newest first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]Record, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}
