package presence

import "time"

// Record is the per-user liveness row. One row per user, upsert
// semantics — no history. Rows are never deleted; status degrades to
// offline instead.
//
// Invariant: LastSeenAt is monotonically non-decreasing per user
// (enforced by the store upsert).

type Record struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Status     Status    `json:"status" db:"status"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
}

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)
