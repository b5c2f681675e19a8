package session

import (
	"context"
	"fmt"

	"school-platform/internal/calls"
	"school-platform/internal/flags"
	"school-platform/internal/presence"
)

// Decision is the availability gate's output. Reason is user-facing
// when Allowed is false.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate is the pre-flight check before a call attempt leaves Idle.
//
// Priority:
//  1) Feature flag for the requested call type
//  2) Caller identity (must be signed in)
//  3) Callee liveness (presence freshness, not just stored status)
//
// Return the decision only. No side effects: no record writes, no
// state transitions, regardless of outcome.
type Gate struct {
	Flags    flags.Flags
	Presence *presence.Client
}

func NewGate(fl flags.Flags, pr *presence.Client) *Gate {
	return &Gate{Flags: fl, Presence: pr}
}

func (g *Gate) Check(ctx context.Context, callerID, calleeID string, callType calls.CallType) Decision {
	key := flags.KeyVoiceCalls
	if callType == calls.CallTypeVideo {
		key = flags.KeyVideoCalls
	}
	if g.Flags == nil || !g.Flags.Enabled(ctx, key) {
		return Decision{Reason: "calls are disabled"}
	}

	if callerID == "" {
		return Decision{Reason: "not signed in"}
	}
	if calleeID == "" {
		return Decision{Reason: "no one to call"}
	}

	if g.Presence == nil || !g.Presence.IsUserOnline(ctx, calleeID) {
		lastSeen := "Offline"
		if g.Presence != nil {
			lastSeen = g.Presence.LastSeenText(ctx, calleeID)
		}
		return Decision{Reason: fmt.Sprintf("user is unavailable (last seen: %s)", lastSeen)}
	}

	return Decision{Allowed: true}
}
