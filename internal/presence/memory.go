package presence

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests. It applies the same
// monotonic last_seen_at rule as the Postgres upsert.

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	upserts int
	failing bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return context.DeadlineExceeded
	}
	m.upserts++
	if cur, ok := m.records[rec.UserID]; ok && rec.LastSeenAt.Before(cur.LastSeenAt) {
		rec.LastSeenAt = cur.LastSeenAt
	}
	m.records[rec.UserID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// SetFailing makes subsequent upserts fail (test helper for the
// best-effort write path).
func (m *MemoryStore) SetFailing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = v
}

// Rows reports the number of stored records (test helper).
func (m *MemoryStore) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Upserts reports how many upserts were attempted (test helper).
func (m *MemoryStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
