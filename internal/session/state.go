package session

import (
	"errors"

	"school-platform/internal/calls"
)

// State is the UI-visible call lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting" // outgoing, callee not yet joined
	StateRinging    State = "ringing"    // incoming, unanswered
	StateActive     State = "active"
	StateEnding     State = "ending"
)

// OutgoingCall describes a call this user initiated. Set optimistically
// on start; the persisted record may not exist yet.
type OutgoingCall struct {
	CallID     string         `json:"call_id"`
	CalleeID   string         `json:"callee_id"`
	Type       calls.CallType `json:"call_type"`
	MeetingURL string         `json:"meeting_url,omitempty"`
}

// AnsweringCall describes an incoming call this user answered.
type AnsweringCall struct {
	CallID     string         `json:"call_id"`
	CallerID   string         `json:"caller_id"`
	Type       calls.CallType `json:"call_type"`
	MeetingURL string         `json:"meeting_url,omitempty"`
}

// Snapshot is the consistent view the UI reads.
//
// IsCallActive: an interface is open or an incoming view exists.
// IsInActiveCall: an interface is open AND an outgoing or answering
// descriptor is populated — distinguishes "ringing but not yet joined"
// from "in a live call".
type Snapshot struct {
	State          State               `json:"call_state"`
	IncomingCall   *calls.IncomingView `json:"incoming_call,omitempty"`
	OutgoingCall   *OutgoingCall       `json:"outgoing_call,omitempty"`
	InterfaceOpen  bool                `json:"interface_open"`
	IsCallActive   bool                `json:"is_call_active"`
	IsInActiveCall bool                `json:"is_in_active_call"`
}

var (
	ErrCallInProgress = errors.New("session: call already in progress")
	ErrNoIncomingCall = errors.New("session: no incoming call")
)

// DeniedError is a pre-flight denial from the availability gate.
// Reason is human-readable and safe to surface to the user.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "session: call denied: " + e.Reason }
