package feed

import (
	"context"
	"sync"

	"school-platform/internal/calls"
)

// MemoryFeed is an in-process Feed for tests and single-node
// development. Delivery is synchronous in publish order.

type MemoryFeed struct {
	mu      sync.Mutex
	nextID  int
	records map[string]map[int]RecordHandler // calleeID -> sub id -> handler
	signals map[string]map[int]SignalHandler // recipientID -> sub id -> handler
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		records: map[string]map[int]RecordHandler{},
		signals: map[string]map[int]SignalHandler{},
	}
}

func (f *MemoryFeed) PublishRecord(ctx context.Context, rec calls.Record) error {
	f.mu.Lock()
	handlers := make([]RecordHandler, 0, len(f.records[rec.CalleeID]))
	for _, h := range f.records[rec.CalleeID] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(rec)
	}
	return nil
}

func (f *MemoryFeed) PublishSignal(ctx context.Context, sig calls.Signal) error {
	f.mu.Lock()
	handlers := make([]SignalHandler, 0, len(f.signals[sig.ToUserID]))
	for _, h := range f.signals[sig.ToUserID] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(sig)
	}
	return nil
}

func (f *MemoryFeed) SubscribeRecords(ctx context.Context, calleeID string, h RecordHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.records[calleeID] == nil {
		f.records[calleeID] = map[int]RecordHandler{}
	}
	f.records[calleeID][id] = h
	return &memorySub{remove: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.records[calleeID], id)
	}}, nil
}

func (f *MemoryFeed) SubscribeSignals(ctx context.Context, recipientID string, h SignalHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.signals[recipientID] == nil {
		f.signals[recipientID] = map[int]SignalHandler{}
	}
	f.signals[recipientID][id] = h
	return &memorySub{remove: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.signals[recipientID], id)
	}}, nil
}

// SubscriberCount reports active subscriptions for a user across both
// streams (test helper).
func (f *MemoryFeed) SubscriberCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[userID]) + len(f.signals[userID])
}

type memorySub struct {
	once   sync.Once
	remove func()
}

func (s *memorySub) Unsubscribe() { s.once.Do(s.remove) }
