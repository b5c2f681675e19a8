package session

import (
	"context"

	"school-platform/internal/flags"
)

// Coordinator is the surface the UI layer consumes. Two variants exist:
// *Session when calling is enabled, Disabled otherwise. The variant is
// decided once at construction so consumers never nil-check.
type Coordinator interface {
	Snapshot() Snapshot
	StartVoiceCall(ctx context.Context, calleeID string) error
	StartVideoCall(ctx context.Context, calleeID string) error
	AnswerCall(ctx context.Context) error
	RejectCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ReturnToCall() bool
}

var (
	_ Coordinator = (*Session)(nil)
	_ Coordinator = Disabled{}
)

// Disabled implements Coordinator as no-ops. Start attempts still
// return a denial so the UI has a reason to show.
type Disabled struct{}

func (Disabled) Snapshot() Snapshot { return Snapshot{State: StateIdle} }

func (Disabled) StartVoiceCall(ctx context.Context, calleeID string) error {
	return &DeniedError{Reason: "calls are disabled"}
}

func (Disabled) StartVideoCall(ctx context.Context, calleeID string) error {
	return &DeniedError{Reason: "calls are disabled"}
}

func (Disabled) AnswerCall(ctx context.Context) error { return nil }
func (Disabled) RejectCall(ctx context.Context) error { return nil }
func (Disabled) EndCall(ctx context.Context) error    { return nil }
func (Disabled) ReturnToCall() bool                   { return false }

// NewCoordinator picks the variant from the flag collaborator: if
// neither call type is enabled the whole feature collapses to no-ops.
func NewCoordinator(ctx context.Context, fl flags.Flags, deps Deps, opts Options) (Coordinator, error) {
	if fl == nil || (!fl.Enabled(ctx, flags.KeyVoiceCalls) && !fl.Enabled(ctx, flags.KeyVideoCalls)) {
		return Disabled{}, nil
	}
	return NewSession(deps, opts)
}
