package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"school-platform/internal/calls"
	"school-platform/internal/directory"
	"school-platform/internal/feed"
	"school-platform/internal/identity"
	"school-platform/internal/media"
)

const (
	DefaultEndGraceDelay        = 1000 * time.Millisecond
	DefaultMeetingURLRetryDelay = 300 * time.Millisecond
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRingTimeout          = 30 * time.Second
)

// Options tune session timing. Zero values fall back to defaults.
type Options struct {
	// EndGraceDelay keeps descriptors around after end-call so rapid
	// re-entry does not flicker; the interface flag still closes
	// synchronously.
	EndGraceDelay time.Duration

	// MeetingURLRetryDelay is the wait before the single bounded
	// re-fetch of a ringing record that arrived without a meeting url.
	MeetingURLRetryDelay time.Duration

	// WriteTimeout bounds the background storage/feed writes that
	// transitions trigger.
	WriteTimeout time.Duration

	// RingTimeout bounds how long a call may stay unanswered. When it
	// elapses the record resolves to missed (terminal-once at the
	// store arbitrates races with a late answer or reject).
	RingTimeout time.Duration

	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.EndGraceDelay <= 0 {
		out.EndGraceDelay = DefaultEndGraceDelay
	}
	if out.MeetingURLRetryDelay <= 0 {
		out.MeetingURLRetryDelay = DefaultMeetingURLRetryDelay
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = DefaultWriteTimeout
	}
	if out.RingTimeout <= 0 {
		out.RingTimeout = DefaultRingTimeout
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// Deps are the collaborators a session needs. Media and Names are
// optional (calls proceed without a meeting url / caller name).
type Deps struct {
	Log      *slog.Logger
	Identity identity.Provider
	Gate     *Gate
	Store    calls.Store
	Feed     feed.Feed
	Media    media.Provider
	Names    directory.Names
}

// Session is the authoritative local call state machine plus the
// reconciler that merges the record and signal streams into it.
//
// All transitions are serialized by one mutex; events arrive from
// arbitrary goroutines (feed callbacks, timers, user actions) but are
// applied one at a time. Storage writes triggered by transitions run
// in the background on their own bounded contexts, so teardown never
// waits on them and late completions only log.
//
// Invariant: at most one of incoming/outgoing/answering is populated.
type Session struct {
	log   *slog.Logger
	ident identity.Provider
	gate  *Gate
	store calls.Store
	feed  feed.Feed
	media media.Provider
	names directory.Names
	opts  Options

	mu            sync.Mutex
	state         State
	incoming      *calls.IncomingView
	outgoing      *OutgoingCall
	answering     *AnsweringCall
	interfaceOpen bool

	// gen invalidates scheduled grace resets when a newer transition
	// supersedes them.
	gen int

	// endingCallID marks a call this session ended locally. Terminal
	// echoes of our own status write are ignored while it is set; the
	// grace timer owns the reset.
	endingCallID string

	// refetchedCallID bounds the meeting-url re-fetch to once per call.
	refetchedCallID string
}

func NewSession(deps Deps, opts Options) (*Session, error) {
	if deps.Identity == nil {
		return nil, errors.New("session: identity provider required")
	}
	if deps.Store == nil {
		return nil, errors.New("session: call store required")
	}
	if deps.Feed == nil {
		return nil, errors.New("session: feed required")
	}
	if deps.Gate == nil {
		return nil, errors.New("session: gate required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:   log,
		ident: deps.Identity,
		gate:  deps.Gate,
		store: deps.Store,
		feed:  deps.Feed,
		media: deps.Media,
		names: deps.Names,
		opts:  opts.withDefaults(),
		state: StateIdle,
	}, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, InterfaceOpen: s.interfaceOpen}
	if s.incoming != nil {
		v := *s.incoming
		snap.IncomingCall = &v
	}
	if s.outgoing != nil {
		v := *s.outgoing
		snap.OutgoingCall = &v
	}
	snap.IsCallActive = s.interfaceOpen || s.incoming != nil
	snap.IsInActiveCall = s.interfaceOpen && (s.outgoing != nil || s.answering != nil)
	return snap
}

func (s *Session) StartVoiceCall(ctx context.Context, calleeID string) error {
	return s.startCall(ctx, calleeID, calls.CallTypeVoice)
}

func (s *Session) StartVideoCall(ctx context.Context, calleeID string) error {
	return s.startCall(ctx, calleeID, calls.CallTypeVideo)
}

func (s *Session) startCall(ctx context.Context, calleeID string, callType calls.CallType) error {
	id := s.ident.Current()

	// Pre-flight. On denial nothing below runs: no state change, no
	// record write.
	if d := s.gate.Check(ctx, id.UserID, calleeID, callType); !d.Allowed {
		return &DeniedError{Reason: d.Reason}
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrCallInProgress
	}
	callID := uuid.NewString()
	s.outgoing = &OutgoingCall{CallID: callID, CalleeID: calleeID, Type: callType}
	s.state = StateConnecting
	s.interfaceOpen = true
	s.gen++
	s.scheduleRingTimeout(callID)
	s.mu.Unlock()

	// Record creation is optimistic and asynchronous; the local
	// descriptor above is what the UI acts on.
	go s.initiate(callID, id, calleeID, callType)
	return nil
}

// initiate creates the meeting, persists the ringing record, and emits
// the offer signal. Every step is best-effort: failures log, the
// callee-side retry/fallback paths absorb the gaps.
func (s *Session) initiate(callID string, caller identity.Identity, calleeID string, callType calls.CallType) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	now := s.opts.Clock().UTC()

	meetingURL := ""
	if s.media != nil {
		m, err := s.media.CreateMeeting(ctx, media.MeetingRequest{
			CallID: callID,
			HostID: caller.UserID,
			Video:  callType == calls.CallTypeVideo,
		})
		if err != nil {
			s.log.Warn("meeting creation failed", "call_id", callID, "err", err)
		} else {
			meetingURL = m.URL
		}
	}

	callerName := caller.DisplayName
	if callerName == "" && s.names != nil {
		if name, err := s.names.DisplayName(ctx, caller.UserID); err == nil {
			callerName = name
		}
	}

	rec := calls.Record{
		CallID:     callID,
		SchoolID:   caller.SchoolID,
		CallerID:   caller.UserID,
		CalleeID:   calleeID,
		Type:       callType,
		Status:     calls.StatusRinging,
		MeetingURL: meetingURL,
		StartedAt:  now,
	}
	sig := calls.Signal{
		ID:         uuid.NewString(),
		FromUserID: caller.UserID,
		ToUserID:   calleeID,
		CallID:     callID,
		Type:       calls.SignalOffer,
		Payload: calls.SignalPayload{
			CallType:   callType,
			MeetingURL: meetingURL,
			CallerName: callerName,
		},
		CreatedAt: now,
	}
	// Record and offer go in as one transaction, then each is published
	// on its stream.
	if err := s.store.CreateWithSignal(ctx, rec, sig); err != nil {
		s.log.Warn("call record insert failed", "call_id", callID, "err", err)
	}
	if err := s.feed.PublishRecord(ctx, rec); err != nil {
		s.log.Warn("call record publish failed", "call_id", callID, "err", err)
	}
	if err := s.feed.PublishSignal(ctx, sig); err != nil {
		s.log.Warn("call signal publish failed", "call_id", callID, "err", err)
	}

	s.mu.Lock()
	if s.outgoing != nil && s.outgoing.CallID == callID {
		s.outgoing.MeetingURL = meetingURL
	}
	s.mu.Unlock()
}

// AnswerCall promotes the incoming view to an answering session.
func (s *Session) AnswerCall(ctx context.Context) error {
	s.mu.Lock()
	if s.incoming == nil {
		s.mu.Unlock()
		return ErrNoIncomingCall
	}
	view := *s.incoming
	s.incoming = nil
	s.answering = &AnsweringCall{
		CallID:     view.CallID,
		CallerID:   view.CallerID,
		Type:       view.Type,
		MeetingURL: view.MeetingURL,
	}
	s.state = StateActive
	s.interfaceOpen = true
	s.gen++
	s.mu.Unlock()

	s.persistStatus(view.CallID, calls.StatusAnswered)
	// Record changes only reach the callee's subscription; the caller
	// learns about the answer through the signal stream.
	s.sendSignal(view.CallID, view.CallerID, calls.SignalAnswer)
	return nil
}

// RejectCall clears the incoming view and persists the rejection.
// A second invocation on the same call is a no-op: the view is already
// gone, so exactly one rejected write is issued locally (the store's
// terminal-once rule covers races with other clients).
func (s *Session) RejectCall(ctx context.Context) error {
	s.mu.Lock()
	if s.incoming == nil {
		s.mu.Unlock()
		return nil
	}
	callID := s.incoming.CallID
	callerID := s.incoming.CallerID
	s.incoming = nil
	if s.state == StateRinging {
		s.state = StateIdle
	}
	s.gen++
	s.mu.Unlock()

	s.persistStatus(callID, calls.StatusRejected)
	s.sendSignal(callID, callerID, calls.SignalReject)
	return nil
}

// EndCall closes the interface synchronously and resets the rest of
// the local state after the grace delay. An answered session persists
// ended; an unanswered outgoing attempt resolves to missed. A ringing
// incoming call is not ours to end (RejectCall declines it), so the
// call is a no-op then.
func (s *Session) EndCall(ctx context.Context) error {
	s.mu.Lock()
	if s.outgoing == nil && s.answering == nil {
		s.mu.Unlock()
		return nil
	}
	var answeredID, missedID, sigCallID, peerID string
	switch {
	case s.answering != nil:
		answeredID = s.answering.CallID
		sigCallID = s.answering.CallID
		peerID = s.answering.CallerID
	case s.outgoing != nil:
		missedID = s.outgoing.CallID
		sigCallID = s.outgoing.CallID
		peerID = s.outgoing.CalleeID
	}
	s.interfaceOpen = false
	s.state = StateEnding
	s.endingCallID = sigCallID
	s.gen++
	g := s.gen
	s.mu.Unlock()

	if answeredID != "" {
		s.persistStatus(answeredID, calls.StatusEnded)
	}
	if missedID != "" {
		s.persistStatus(missedID, calls.StatusMissed)
	}
	s.sendSignal(sigCallID, peerID, calls.SignalEnd)

	time.AfterFunc(s.opts.EndGraceDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != g {
			return
		}
		s.outgoing = nil
		s.answering = nil
		s.endingCallID = ""
		s.state = StateIdle
	})
	return nil
}

// ReturnToCall reopens the interface for a still-live session, for
// example after the user dismissed the call surface. Reports whether
// there was a session to return to.
func (s *Session) ReturnToCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outgoing == nil && s.answering == nil {
		return false
	}
	s.interfaceOpen = true
	s.gen++ // cancels a pending grace reset
	s.endingCallID = ""
	if s.answering != nil {
		s.state = StateActive
	} else {
		s.state = StateConnecting
	}
	return true
}

// HandleRecord applies a call-record change event from the feed.
func (s *Session) HandleRecord(rec calls.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Status.Terminal() {
		s.applyTerminalLocked(rec.CallID)
		return
	}

	switch rec.Status {
	case calls.StatusRinging:
		userID := s.ident.Current().UserID
		if rec.CalleeID != userID {
			return
		}
		if s.incoming != nil && s.incoming.CallID == rec.CallID {
			v := s.incoming.MergeRecord(rec)
			s.incoming = &v
		} else if s.state == StateIdle {
			v := calls.ViewFromRecord(rec)
			s.incoming = &v
			s.state = StateRinging
			s.gen++
			s.scheduleRingTimeout(rec.CallID)
			if v.CallerName == "" {
				go s.fillCallerName(rec.CallID, rec.CallerID)
			}
		} else {
			// Already in a call; a second ringing record is ignored so
			// the UI never shows two overlapping calls.
			return
		}
		if s.incoming != nil && s.incoming.CallID == rec.CallID && s.incoming.MeetingURL == "" {
			s.scheduleURLRefetchLocked(rec.CallID)
		}

	case calls.StatusAnswered:
		// Remote answer propagated back to the caller side.
		if s.outgoing != nil && s.outgoing.CallID == rec.CallID {
			s.state = StateActive
		}
	}
}

// HandleSignal applies a call-signal insert event from the feed.
// Signals are idempotent: re-applying one never duplicates state.
func (s *Session) HandleSignal(sig calls.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch sig.Type {
	case calls.SignalOffer:
		if sig.ToUserID != s.ident.Current().UserID {
			return
		}
		if s.incoming != nil && s.incoming.CallID == sig.CallID {
			v := s.incoming.MergeSignal(sig)
			s.incoming = &v
		} else if s.state == StateIdle {
			// Signal arrived before the record: placeholder view.
			v := calls.ViewFromSignal(sig)
			s.incoming = &v
			s.state = StateRinging
			s.gen++
			s.scheduleRingTimeout(sig.CallID)
			if v.CallerName == "" {
				go s.fillCallerName(sig.CallID, sig.FromUserID)
			}
		}

	case calls.SignalReject, calls.SignalEnd:
		s.applyTerminalLocked(sig.CallID)

	case calls.SignalAnswer:
		if s.outgoing != nil && s.outgoing.CallID == sig.CallID {
			s.state = StateActive
		}
	}
}

// applyTerminalLocked clears whatever local state tracks the call.
// Terminal events for untracked calls are discarded.
func (s *Session) applyTerminalLocked(callID string) {
	if s.incoming != nil && s.incoming.CallID == callID {
		s.incoming = nil
		if s.state == StateRinging {
			s.state = StateIdle
		}
		s.gen++
		return
	}
	if (s.outgoing != nil && s.outgoing.CallID == callID) ||
		(s.answering != nil && s.answering.CallID == callID) {
		if s.state == StateEnding && s.endingCallID == callID {
			// Our own terminal write echoed back through the feed. The
			// grace timer owns the reset, so the descriptors stay put
			// until it fires or ReturnToCall revives them.
			return
		}
		s.outgoing = nil
		s.answering = nil
		s.interfaceOpen = false
		s.state = StateIdle
		s.gen++
	}
}

// scheduleRingTimeout resolves a call to missed when it is still
// unanswered once RingTimeout elapses: a ringing incoming view stops
// ringing, an outgoing attempt still connecting tears down. Any other
// state at expiry means the call progressed and the timer is moot.
func (s *Session) scheduleRingTimeout(callID string) {
	time.AfterFunc(s.opts.RingTimeout, func() {
		s.mu.Lock()
		if s.incoming != nil && s.incoming.CallID == callID && s.state == StateRinging {
			s.incoming = nil
			s.state = StateIdle
			s.gen++
			s.mu.Unlock()
			s.persistStatus(callID, calls.StatusMissed)
			return
		}
		if s.outgoing != nil && s.outgoing.CallID == callID && s.state == StateConnecting {
			s.outgoing = nil
			s.interfaceOpen = false
			s.state = StateIdle
			s.gen++
			s.mu.Unlock()
			s.persistStatus(callID, calls.StatusMissed)
			return
		}
		s.mu.Unlock()
	})
}

// scheduleURLRefetchLocked re-fetches a ringing record once after a
// short delay when it arrived without a meeting url. If the re-fetch
// still has no url, the signal stream is the fallback.
func (s *Session) scheduleURLRefetchLocked(callID string) {
	if s.refetchedCallID == callID {
		return
	}
	s.refetchedCallID = callID
	time.AfterFunc(s.opts.MeetingURLRetryDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		rec, err := s.store.GetRecord(ctx, callID)
		if err != nil {
			s.log.Debug("meeting url re-fetch failed", "call_id", callID, "err", err)
			return
		}
		s.HandleRecord(rec)
	})
}

// fillCallerName resolves the caller's display name in the background.
// Best-effort: on failure the UI shows its own fallback.
func (s *Session) fillCallerName(callID, callerID string) {
	if s.names == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	name, err := s.names.DisplayName(ctx, callerID)
	if err != nil {
		s.log.Debug("caller name lookup failed", "user_id", callerID, "err", err)
		return
	}
	s.mu.Lock()
	if s.incoming != nil && s.incoming.CallID == callID && s.incoming.CallerName == "" {
		s.incoming.CallerName = name
	}
	s.mu.Unlock()
}

// sendSignal emits a lifecycle signal to the peer. Fire-and-forget:
// the persisted record remains authoritative, the signal only cuts
// perceived latency.
func (s *Session) sendSignal(callID, toUserID string, sigType calls.SignalType) {
	fromID := s.ident.Current().UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		sig := calls.Signal{
			ID:         uuid.NewString(),
			FromUserID: fromID,
			ToUserID:   toUserID,
			CallID:     callID,
			Type:       sigType,
			CreatedAt:  s.opts.Clock().UTC(),
		}
		if err := s.store.AppendSignal(ctx, sig); err != nil {
			s.log.Warn("signal insert failed", "call_id", callID, "type", sigType, "err", err)
		}
		if err := s.feed.PublishSignal(ctx, sig); err != nil {
			s.log.Warn("signal publish failed", "call_id", callID, "type", sigType, "err", err)
		}
	}()
}

// persistStatus transitions the record and republishes it so the other
// side observes the change. Fire-and-forget.
func (s *Session) persistStatus(callID string, status calls.Status) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		rec, applied, err := s.store.SetStatus(ctx, callID, status, s.opts.Clock().UTC())
		if err != nil {
			s.log.Warn("call status write failed", "call_id", callID, "status", status, "err", err)
			return
		}
		if !applied {
			return
		}
		if err := s.feed.PublishRecord(ctx, rec); err != nil {
			s.log.Warn("call status publish failed", "call_id", callID, "status", status, "err", err)
		}
	}()
}
