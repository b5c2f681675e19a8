package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It mirrors the terminal-once semantics of the Postgres store.

type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]Record
	signals     []Signal
	transitions []Status // applied SetStatus writes, in order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) CreateRecord(ctx context.Context, rec Record) error {
	if rec.CallID == "" || rec.SchoolID == "" || rec.CallerID == "" || rec.CalleeID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CallID] = rec
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, callID string) (Record, error) {
	if callID == "" {
		return Record{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, callID string, status Status, at time.Time) (Record, bool, error) {
	if callID == "" || status == "" {
		return Record{}, false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[callID]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	if rec.Status.Terminal() {
		return rec, false, nil
	}
	rec.Status = status
	if status == StatusAnswered {
		t := at
		rec.AnsweredAt = &t
	}
	m.records[callID] = rec
	m.transitions = append(m.transitions, status)
	return rec, true, nil
}

func (m *MemoryStore) AppendSignal(ctx context.Context, sig Signal) error {
	if sig.ID == "" || sig.CallID == "" || sig.FromUserID == "" || sig.ToUserID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return nil
}

func (m *MemoryStore) CreateWithSignal(ctx context.Context, rec Record, sig Signal) error {
	if rec.CallID == "" || rec.SchoolID == "" || rec.CallerID == "" || rec.CalleeID == "" {
		return ErrInvalidArgument
	}
	if sig.ID == "" || sig.CallID == "" || sig.FromUserID == "" || sig.ToUserID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CallID] = rec
	m.signals = append(m.signals, sig)
	return nil
}

// Signals returns a copy of all appended signals (test helper).
func (m *MemoryStore) Signals() []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Signal, len(m.signals))
	copy(out, m.signals)
	return out
}

// StatusWrites counts applied SetStatus transitions to the given status
// (test helper for exactly-once transition assertions).
func (m *MemoryStore) StatusWrites(status Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.transitions {
		if s == status {
			n++
		}
	}
	return n
}

// RecordCount reports how many call records exist (test helper).
func (m *MemoryStore) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
