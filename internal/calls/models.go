package calls

import "time"

// Record is the authoritative, persisted representation of one call attempt.
//
// Created by the caller side on initiation; the callee mutates status on
// answer/reject and either side may end. Once Status is terminal the row
// never transitions again (enforced by Store.SetStatus).
//
// Multi-tenant invariant: SchoolID is required on every row.

type Record struct {
	CallID   string `json:"call_id" db:"call_id"`
	SchoolID string `json:"school_id" db:"school_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	Type   CallType `json:"call_type" db:"call_type"`
	Status Status   `json:"status" db:"status"`

	// MeetingURL is issued by the media provider. It may lag the initial
	// ringing insert; the signal stream carries it redundantly.
	MeetingURL string `json:"meeting_url,omitempty" db:"meeting_url"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusRejected Status = "rejected"
	StatusEnded    Status = "ended"
	StatusMissed   Status = "missed"
)

// Terminal reports whether a status ends the call lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusEnded, StatusMissed:
		return true
	default:
		return false
	}
}

// Signal is the low-latency, fire-and-forget companion to Record.
// Append-only; never mutated; superseded by the Record once it arrives.
type Signal struct {
	ID         string        `json:"id" db:"id"`
	FromUserID string        `json:"from_user_id" db:"from_user_id"`
	ToUserID   string        `json:"to_user_id" db:"to_user_id"`
	CallID     string        `json:"call_id" db:"call_id"`
	Type       SignalType    `json:"signal_type" db:"signal_type"`
	Payload    SignalPayload `json:"payload" db:"payload"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalReject SignalType = "reject"
	SignalEnd    SignalType = "end"
)

// SignalPayload carries the fields a callee needs before the persisted
// Record propagates. All fields optional.
type SignalPayload struct {
	CallType   CallType `json:"call_type,omitempty"`
	MeetingURL string   `json:"meeting_url,omitempty"`
	CallerName string   `json:"caller_name,omitempty"`
}
