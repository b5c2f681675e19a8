package identity

import "sync"

// Identity is the signed-in user as seen by the call coordinator.
// A zero Identity means signed out.
type Identity struct {
	UserID      string
	SchoolID    string
	DisplayName string
}

func (id Identity) SignedIn() bool { return id.UserID != "" }

// Provider exposes the current identity and a change stream. The
// lifecycle runner re-subscribes feed subscriptions whenever the
// identity changes (sign-in/sign-out).
type Provider interface {
	Current() Identity
	Changes() <-chan Identity
}

// Static is a Provider backed by an in-process value. The HTTP layer
// uses one per authenticated user; tests drive Set directly.
type Static struct {
	mu      sync.Mutex
	current Identity
	changes chan Identity
}

func NewStatic(id Identity) *Static {
	return &Static{current: id, changes: make(chan Identity, 4)}
}

func (s *Static) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Static) Changes() <-chan Identity { return s.changes }

// Set swaps the identity and notifies watchers. Non-blocking: if the
// watcher is gone the notification is dropped.
func (s *Static) Set(id Identity) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	select {
	case s.changes <- id:
	default:
	}
}
