package presence

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestClient(store Store, clk *fakeClock) *Client {
	return NewClient(store, nil, "alice", Options{Clock: clk.Now})
}

func TestSetStatus_UpsertsSingleRow(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestClient(store, clk)

	c.SetStatus(context.Background(), StatusOnline)
	first, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	clk.Advance(10 * time.Second)
	c.SetStatus(context.Background(), StatusOnline)

	if store.Rows() != 1 {
		t.Fatalf("expected one row per user, got %d", store.Rows())
	}
	second, _ := store.Get(context.Background(), "alice")
	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Fatalf("last_seen_at did not advance: %v -> %v", first.LastSeenAt, second.LastSeenAt)
	}
}

func TestUpsert_LastSeenMonotonic(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Upsert(context.Background(), Record{UserID: "bob", Status: StatusOnline, LastSeenAt: now}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// A late write with an older timestamp must not roll last_seen_at back.
	if err := store.Upsert(context.Background(), Record{UserID: "bob", Status: StatusAway, LastSeenAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	rec, _ := store.Get(context.Background(), "bob")
	if !rec.LastSeenAt.Equal(now) {
		t.Fatalf("last_seen_at rolled back to %v", rec.LastSeenAt)
	}
	if rec.Status != StatusAway {
		t.Fatalf("status should still apply, got %q", rec.Status)
	}
}

func TestIsUserOnline_FreshnessOverridesStaleStatus(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestClient(store, clk)

	_ = store.Upsert(context.Background(), Record{UserID: "bob", Status: StatusOnline, LastSeenAt: clk.now})
	if !c.IsUserOnline(context.Background(), "bob") {
		t.Fatalf("fresh online row should read as online")
	}

	clk.Advance(2*time.Minute + time.Second)
	if c.IsUserOnline(context.Background(), "bob") {
		t.Fatalf("stale online row must read as offline")
	}
}

func TestIsUserOnline_UnknownUserIsOffline(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Now()}
	c := newTestClient(store, clk)

	if c.IsUserOnline(context.Background(), "nobody") {
		t.Fatalf("unknown user must read as offline")
	}
}

func TestHeartbeat_DemotesToAwayAfterIdleTimeout(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestClient(store, clk)

	// t=0 and t=30s: interacted recently enough, stays online.
	c.Heartbeat(context.Background())
	clk.Advance(30 * time.Second)
	c.Heartbeat(context.Background())

	rec, _ := store.Get(context.Background(), "alice")
	if rec.Status != StatusOnline {
		t.Fatalf("expected online at t=30s, got %q", rec.Status)
	}

	// t=300s with no interaction since t=0: demoted to away.
	clk.Advance(270 * time.Second)
	c.Heartbeat(context.Background())

	rec, _ = store.Get(context.Background(), "alice")
	if rec.Status != StatusAway {
		t.Fatalf("expected away at t=300s, got %q", rec.Status)
	}
}

func TestHeartbeat_InteractionResetsIdle(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestClient(store, clk)

	clk.Advance(4 * time.Minute)
	c.RecordInteraction()
	clk.Advance(2 * time.Minute)
	c.Heartbeat(context.Background())

	rec, _ := store.Get(context.Background(), "alice")
	if rec.Status != StatusOnline {
		t.Fatalf("interaction 2 min ago should keep user online, got %q", rec.Status)
	}
}

func TestSetStatus_SwallowsStoreFailure(t *testing.T) {
	store := NewMemoryStore()
	clk := &fakeClock{now: time.Now()}
	c := newTestClient(store, clk)

	store.SetFailing(true)
	// Must not panic or return; presence is best-effort.
	c.SetStatus(context.Background(), StatusOnline)

	store.SetFailing(false)
	c.SetStatus(context.Background(), StatusOnline)
	if store.Rows() != 1 {
		t.Fatalf("expected recovery after failure, rows=%d", store.Rows())
	}
}

func TestLastSeenText(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		lastSeen time.Time
		want     string
	}{
		{now.Add(-10 * time.Second), "Just now"},
		{now.Add(-5 * time.Minute), "5 min ago"},
		{now.Add(-3 * time.Hour), "3 hr ago"},
		{time.Date(2026, 3, 9, 2, 0, 0, 0, time.UTC), "Yesterday"},
		{time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), "Feb 1, 2026"},
		{time.Time{}, "Offline"},
	}
	for _, c := range cases {
		if got := lastSeenText(now, c.lastSeen); got != c.want {
			t.Fatalf("lastSeenText(%v) = %q, want %q", c.lastSeen, got, c.want)
		}
	}
}
