package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"school-platform/internal/feed"
	"school-platform/internal/identity"
	"school-platform/internal/presence"
)

// finalWriteTimeout bounds the best-effort offline write on teardown.
const finalWriteTimeout = 2 * time.Second

// Runner owns the session's external wiring: the presence heartbeat
// timer, both feed subscriptions (filtered to the current user), and
// app foreground/background transitions. Everything acquired on start
// or identity change is released on teardown or the next identity
// change — scoped acquisition, independent of any UI lifecycle.
type Runner struct {
	log   *slog.Logger
	ident identity.Provider
	fd    feed.Feed
	sess  *Session

	// newPresence builds the per-user presence client; invoked again on
	// every identity change.
	newPresence func(userID string) *presence.Client

	mu sync.Mutex
	pc *presence.Client
}

type RunnerConfig struct {
	Log         *slog.Logger
	Identity    identity.Provider
	Feed        feed.Feed
	Session     *Session
	NewPresence func(userID string) *presence.Client
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Identity == nil {
		return nil, errors.New("session: identity provider required")
	}
	if cfg.Feed == nil {
		return nil, errors.New("session: feed required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session: session required")
	}
	if cfg.NewPresence == nil {
		return nil, errors.New("session: presence factory required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log:         log,
		ident:       cfg.Identity,
		fd:          cfg.Feed,
		sess:        cfg.Session,
		newPresence: cfg.NewPresence,
	}, nil
}

// Handle stops the runner. Stop is safe to call from any goroutine and
// any number of times; teardown happens exactly once.
type Handle struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *Handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// Start binds subscriptions and the heartbeat for the current identity
// and begins watching for identity changes.
func (r *Runner) Start(ctx context.Context) (*Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go r.run(runCtx, h)
	return h, nil
}

func (r *Runner) run(ctx context.Context, h *Handle) {
	defer close(h.done)

	release := r.bind(ctx, r.ident.Current())
	changes := r.ident.Changes()

	for {
		select {
		case <-ctx.Done():
			if release != nil {
				release()
			}
			return
		case next := <-changes:
			if release != nil {
				release()
			}
			release = r.bind(ctx, next)
		}
	}
}

// bind acquires subscriptions and the heartbeat loop for one identity
// and returns the matching release func. A signed-out identity binds
// nothing.
func (r *Runner) bind(ctx context.Context, id identity.Identity) func() {
	if !id.SignedIn() {
		r.mu.Lock()
		r.pc = nil
		r.mu.Unlock()
		return nil
	}

	pc := r.newPresence(id.UserID)
	r.mu.Lock()
	r.pc = pc
	r.mu.Unlock()

	recSub, err := r.fd.SubscribeRecords(ctx, id.UserID, r.sess.HandleRecord)
	if err != nil {
		r.log.Warn("record subscription failed", "user_id", id.UserID, "err", err)
	}
	sigSub, err := r.fd.SubscribeSignals(ctx, id.UserID, r.sess.HandleSignal)
	if err != nil {
		r.log.Warn("signal subscription failed", "user_id", id.UserID, "err", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	go r.heartbeatLoop(hbCtx, pc)

	return func() {
		hbCancel()
		if recSub != nil {
			recSub.Unsubscribe()
		}
		if sigSub != nil {
			sigSub.Unsubscribe()
		}
		// Final offline write: best-effort and off the teardown path.
		// A late or failed completion only logs.
		go func() {
			wctx, wcancel := context.WithTimeout(context.Background(), finalWriteTimeout)
			defer wcancel()
			pc.SetStatus(wctx, presence.StatusOffline)
		}()
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context, pc *presence.Client) {
	pc.Heartbeat(ctx)
	t := time.NewTicker(pc.HeartbeatEvery())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pc.Heartbeat(ctx)
		}
	}
}

func (r *Runner) current() *presence.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc
}

// AppForeground marks the user active and immediately re-asserts
// presence.
func (r *Runner) AppForeground(ctx context.Context) {
	if pc := r.current(); pc != nil {
		pc.RecordInteraction()
		pc.Heartbeat(ctx)
	}
}

// AppBackground demotes presence to away without waiting for the next
// heartbeat tick.
func (r *Runner) AppBackground(ctx context.Context) {
	if pc := r.current(); pc != nil {
		pc.SetStatus(ctx, presence.StatusAway)
	}
}
