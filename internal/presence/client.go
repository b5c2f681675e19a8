package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the client; override via Options.
const (
	DefaultFreshnessWindow = 2 * time.Minute
	DefaultAwayTimeout     = 5 * time.Minute
	DefaultHeartbeatEvery  = 30 * time.Second
)

// Options tune the presence client. Zero values fall back to defaults.
type Options struct {
	// FreshnessWindow is the maximum age of last_seen_at for a stored
	// "online" status to be trusted. A crashed or partitioned client can
	// leave a stale online row; the window overrides it.
	FreshnessWindow time.Duration

	// AwayTimeout demotes the heartbeat to "away" when the user has not
	// interacted for this long.
	AwayTimeout time.Duration

	// HeartbeatEvery is the tick interval the lifecycle runner uses.
	HeartbeatEvery time.Duration

	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.FreshnessWindow <= 0 {
		out.FreshnessWindow = DefaultFreshnessWindow
	}
	if out.AwayTimeout <= 0 {
		out.AwayTimeout = DefaultAwayTimeout
	}
	if out.HeartbeatEvery <= 0 {
		out.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// Client owns the current user's presence writes and answers liveness
// questions about other users.
//
// Presence is best-effort: writes never block callers on failure, they
// log and move on. Reads degrade to "offline" when the store is
// unreachable or the row is missing.
type Client struct {
	store Store
	log   *slog.Logger
	opts  Options

	userID string

	mu              sync.Mutex
	lastInteraction time.Time
}

func NewClient(store Store, log *slog.Logger, userID string, opts Options) *Client {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		store:           store,
		log:             log,
		opts:            opts,
		userID:          userID,
		lastInteraction: opts.Clock(),
	}
}

// HeartbeatEvery exposes the configured tick interval for the runner.
func (c *Client) HeartbeatEvery() time.Duration { return c.opts.HeartbeatEvery }

// UserID returns the user whose presence this client asserts.
func (c *Client) UserID() string { return c.userID }

// SetStatus writes a presence row for the current user. Fire-and-forget:
// failures are logged and swallowed, presence must never block a caller.
func (c *Client) SetStatus(ctx context.Context, status Status) {
	rec := Record{UserID: c.userID, Status: status, LastSeenAt: c.opts.Clock().UTC()}
	if err := c.store.Upsert(ctx, rec); err != nil {
		c.log.Warn("presence write failed", "user_id", c.userID, "status", status, "err", err)
	}
}

// RecordInteraction marks the user as recently active; the next
// heartbeat re-asserts online instead of demoting to away.
func (c *Client) RecordInteraction() {
	c.mu.Lock()
	c.lastInteraction = c.opts.Clock()
	c.mu.Unlock()
}

// Heartbeat re-asserts online when the user interacted within the away
// timeout, otherwise demotes to away. Invoked on a fixed interval by
// the lifecycle runner and directly by app-foreground transitions.
func (c *Client) Heartbeat(ctx context.Context) {
	c.mu.Lock()
	idle := c.opts.Clock().Sub(c.lastInteraction)
	c.mu.Unlock()

	status := StatusOnline
	if idle >= c.opts.AwayTimeout {
		status = StatusAway
	}
	c.SetStatus(ctx, status)
}

// IsUserOnline reports whether the stored status is online AND the row
// is fresh. Stale online rows (older than the freshness window) read as
// offline.
func (c *Client) IsUserOnline(ctx context.Context, userID string) bool {
	rec, err := c.store.Get(ctx, userID)
	if err != nil {
		if err != ErrNotFound {
			c.log.Warn("presence read failed", "user_id", userID, "err", err)
		}
		return false
	}
	if rec.Status != StatusOnline {
		return false
	}
	return c.opts.Clock().Sub(rec.LastSeenAt) <= c.opts.FreshnessWindow
}

// LastSeenText returns a human-readable liveness summary derived from
// last_seen_at, independent of the stored status.
func (c *Client) LastSeenText(ctx context.Context, userID string) string {
	rec, err := c.store.Get(ctx, userID)
	if err != nil {
		if err != ErrNotFound {
			c.log.Warn("presence read failed", "user_id", userID, "err", err)
		}
		return "Offline"
	}
	return lastSeenText(c.opts.Clock(), rec.LastSeenAt)
}

func lastSeenText(now, lastSeen time.Time) string {
	if lastSeen.IsZero() {
		return "Offline"
	}
	d := now.Sub(lastSeen)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(d.Hours()))
	}
	y, m, dd := now.AddDate(0, 0, -1).Date()
	ly, lm, ld := lastSeen.Date()
	if y == ly && m == lm && dd == ld {
		return "Yesterday"
	}
	return lastSeen.Format("Jan 2, 2006")
}
