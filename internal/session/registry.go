package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"school-platform/internal/calls"
	"school-platform/internal/directory"
	"school-platform/internal/feed"
	"school-platform/internal/flags"
	"school-platform/internal/identity"
	"school-platform/internal/media"
	"school-platform/internal/presence"
)

// Registry hands out one live session per authenticated user for the
// HTTP surface, created lazily on first use and torn down together at
// shutdown.
type Registry struct {
	log      *slog.Logger
	store    calls.Store
	presRepo presence.Store
	fd       feed.Feed
	mediaP   media.Provider
	names    directory.Names
	fl       flags.Flags

	presOpts presence.Options
	sessOpts Options

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	entries map[string]*UserSession
	closed  bool
}

type RegistryConfig struct {
	Log           *slog.Logger
	CallStore     calls.Store
	PresenceStore presence.Store
	Feed          feed.Feed
	Media         media.Provider
	Names         directory.Names
	Flags         flags.Flags

	PresenceOptions presence.Options
	SessionOptions  Options
}

// UserSession bundles what the HTTP handlers need for one user.
type UserSession struct {
	Coordinator Coordinator
	Presence    *presence.Client
	Runner      *Runner // nil when calling is disabled

	handle *Handle
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.CallStore == nil || cfg.PresenceStore == nil || cfg.Feed == nil {
		return nil, errors.New("session: registry requires call store, presence store, and feed")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:      log,
		store:    cfg.CallStore,
		presRepo: cfg.PresenceStore,
		fd:       cfg.Feed,
		mediaP:   cfg.Media,
		names:    cfg.Names,
		fl:       cfg.Flags,
		presOpts: cfg.PresenceOptions,
		sessOpts: cfg.SessionOptions,
		baseCtx:  ctx,
		stop:     cancel,
		entries:  map[string]*UserSession{},
	}, nil
}

// ForUser returns the user's session, creating and starting it on
// first use.
func (r *Registry) ForUser(id identity.Identity) (*UserSession, error) {
	if !id.SignedIn() {
		return nil, errors.New("session: not signed in")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("session: registry closed")
	}
	if us, ok := r.entries[id.UserID]; ok {
		return us, nil
	}

	pc := presence.NewClient(r.presRepo, r.log, id.UserID, r.presOpts)
	// The runner must share this client for the bound user so HTTP
	// interaction marks feed the same heartbeat state.
	newPresence := func(userID string) *presence.Client {
		if userID == id.UserID {
			return pc
		}
		return presence.NewClient(r.presRepo, r.log, userID, r.presOpts)
	}
	ident := identity.NewStatic(id)

	coord, err := NewCoordinator(r.baseCtx, r.fl, Deps{
		Log:      r.log,
		Identity: ident,
		Gate:     NewGate(r.fl, pc),
		Store:    r.store,
		Feed:     r.fd,
		Media:    r.mediaP,
		Names:    r.names,
	}, r.sessOpts)
	if err != nil {
		return nil, err
	}

	us := &UserSession{Coordinator: coord, Presence: pc}

	// Only an enabled session has feed subscriptions and a heartbeat
	// loop to run; presence stays usable either way.
	if sess, ok := coord.(*Session); ok {
		runner, err := NewRunner(RunnerConfig{
			Log:         r.log,
			Identity:    ident,
			Feed:        r.fd,
			Session:     sess,
			NewPresence: newPresence,
		})
		if err != nil {
			return nil, err
		}
		handle, err := runner.Start(r.baseCtx)
		if err != nil {
			return nil, err
		}
		us.Runner = runner
		us.handle = handle
	}

	r.entries[id.UserID] = us
	return us, nil
}

// Close stops every live session. Safe to call once at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := make([]*UserSession, 0, len(r.entries))
	for _, us := range r.entries {
		entries = append(entries, us)
	}
	r.entries = map[string]*UserSession{}
	r.mu.Unlock()

	for _, us := range entries {
		if us.handle != nil {
			us.handle.Stop()
		}
	}
	r.stop()
}
