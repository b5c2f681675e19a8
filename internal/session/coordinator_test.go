package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"school-platform/internal/calls"
	"school-platform/internal/directory"
	"school-platform/internal/feed"
	"school-platform/internal/flags"
	"school-platform/internal/identity"
	"school-platform/internal/media"
	"school-platform/internal/presence"
)

// Timings are compressed for tests; the defaults (1s grace, 300ms
// retry, 30s ring timeout) are exercised implicitly through the same
// code paths.
const (
	testGraceDelay  = 40 * time.Millisecond
	testRetryDelay  = 15 * time.Millisecond
	testRingTimeout = 40 * time.Millisecond
)

type fixture struct {
	sess  *Session
	store *calls.MemoryStore
	fd    *feed.MemoryFeed
	pres  *presence.MemoryStore
	fl    *flags.Static
	names *directory.MemoryNames
	ident *identity.Static
}

func newFixture(t *testing.T, userID string) *fixture {
	return newFixtureOpts(t, userID, Options{
		EndGraceDelay:        testGraceDelay,
		MeetingURLRetryDelay: testRetryDelay,
	})
}

func newFixtureOpts(t *testing.T, userID string, opts Options) *fixture {
	t.Helper()

	store := calls.NewMemoryStore()
	fd := feed.NewMemoryFeed()
	pres := presence.NewMemoryStore()
	fl := flags.NewStatic(map[string]bool{
		flags.KeyVoiceCalls: true,
		flags.KeyVideoCalls: true,
	})
	names := directory.NewMemoryNames()
	ident := identity.NewStatic(identity.Identity{UserID: userID, SchoolID: "school-1"})

	pc := presence.NewClient(pres, nil, userID, presence.Options{})
	mediaP, err := media.NewStaticProvider("https://meet.test")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	sess, err := NewSession(Deps{
		Identity: ident,
		Gate:     NewGate(fl, pc),
		Store:    store,
		Feed:     fd,
		Media:    mediaP,
		Names:    names,
	}, opts)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	return &fixture{sess: sess, store: store, fd: fd, pres: pres, fl: fl, names: names, ident: ident}
}

func (f *fixture) markOnline(t *testing.T, userID string) {
	t.Helper()
	err := f.pres.Upsert(context.Background(), presence.Record{
		UserID: userID, Status: presence.StatusOnline, LastSeenAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func incomingRecord(callID string) calls.Record {
	return calls.Record{
		CallID:    callID,
		SchoolID:  "school-1",
		CallerID:  "alice",
		CalleeID:  "bob",
		Type:      calls.CallTypeVideo,
		Status:    calls.StatusRinging,
		StartedAt: time.Now(),
	}
}

func incomingOffer(callID, url string) calls.Signal {
	return calls.Signal{
		ID:         "sig-" + callID,
		FromUserID: "alice",
		ToUserID:   "bob",
		CallID:     callID,
		Type:       calls.SignalOffer,
		Payload: calls.SignalPayload{
			CallType:   calls.CallTypeVideo,
			MeetingURL: url,
			CallerName: "Alice A.",
		},
		CreatedAt: time.Now(),
	}
}

func TestStartCall_DeniedLeavesNoTrace(t *testing.T) {
	f := newFixture(t, "bob")
	// carol has no presence row: the gate denies.

	err := f.sess.StartVoiceCall(context.Background(), "carol")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}

	snap := f.sess.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("denial must not transition, got %q", snap.State)
	}
	// No record write may ever happen; give the (nonexistent) async
	// path a moment to prove it.
	time.Sleep(30 * time.Millisecond)
	if f.store.RecordCount() != 0 {
		t.Fatalf("denial wrote a call record")
	}
}

func TestStartCall_CreatesRecordAndSignal(t *testing.T) {
	f := newFixture(t, "bob")
	f.markOnline(t, "carol")

	if err := f.sess.StartVideoCall(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	snap := f.sess.Snapshot()
	if snap.State != StateConnecting {
		t.Fatalf("expected connecting, got %q", snap.State)
	}
	if snap.OutgoingCall == nil || snap.OutgoingCall.CalleeID != "carol" {
		t.Fatalf("expected outgoing descriptor, got %+v", snap.OutgoingCall)
	}
	if !snap.InterfaceOpen || !snap.IsInActiveCall {
		t.Fatalf("caller interface should open immediately: %+v", snap)
	}

	waitFor(t, func() bool { return f.store.RecordCount() == 1 }, "call record created")
	waitFor(t, func() bool { return len(f.store.Signals()) == 1 }, "offer signal appended")

	sig := f.store.Signals()[0]
	if sig.Type != calls.SignalOffer || sig.ToUserID != "carol" {
		t.Fatalf("unexpected signal %+v", sig)
	}
	if sig.Payload.MeetingURL == "" {
		t.Fatalf("expected meeting url in offer payload")
	}
}

func TestStartCall_BusyReturnsError(t *testing.T) {
	f := newFixture(t, "bob")
	f.markOnline(t, "carol")

	if err := f.sess.StartVoiceCall(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.sess.StartVoiceCall(context.Background(), "carol"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
}

func TestIncoming_RecordThenSignalFillsMeetingURL(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1") // no meeting url yet
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)

	snap := f.sess.Snapshot()
	if snap.State != StateRinging || snap.IncomingCall == nil {
		t.Fatalf("expected ringing with incoming view, got %+v", snap)
	}
	if !snap.IsCallActive || snap.IsInActiveCall {
		t.Fatalf("ringing is active but not in-call: %+v", snap)
	}

	// Signal lands 300ms-equivalent later with the url.
	f.sess.HandleSignal(incomingOffer("call-1", "https://x"))

	snap = f.sess.Snapshot()
	if snap.IncomingCall.MeetingURL != "https://x" {
		t.Fatalf("expected url from signal, got %q", snap.IncomingCall.MeetingURL)
	}
}

func TestIncoming_SignalFirstThenRecordSameView(t *testing.T) {
	a := newFixture(t, "bob")
	b := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	sig := incomingOffer("call-1", "https://x")

	a.sess.HandleRecord(rec)
	a.sess.HandleSignal(sig)

	b.sess.HandleSignal(sig)
	b.sess.HandleRecord(rec)

	va := a.sess.Snapshot().IncomingCall
	vb := b.sess.Snapshot().IncomingCall
	if va == nil || vb == nil {
		t.Fatalf("expected incoming views in both orders")
	}
	if *va != *vb {
		t.Fatalf("arrival order changed the view:\n record-first: %+v\n signal-first: %+v", *va, *vb)
	}
}

func TestIncoming_DuplicateSignalIsNoOp(t *testing.T) {
	f := newFixture(t, "bob")

	sig := incomingOffer("call-1", "https://x")
	f.sess.HandleSignal(sig)
	first := *f.sess.Snapshot().IncomingCall
	f.sess.HandleSignal(sig)
	second := *f.sess.Snapshot().IncomingCall

	if first != second {
		t.Fatalf("duplicate offer changed local state")
	}
	if f.sess.Snapshot().State != StateRinging {
		t.Fatalf("expected still ringing")
	}
}

func TestIncoming_IgnoredWhileBusy(t *testing.T) {
	f := newFixture(t, "bob")
	f.markOnline(t, "carol")

	if err := f.sess.StartVoiceCall(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	f.sess.HandleRecord(incomingRecord("call-other"))

	snap := f.sess.Snapshot()
	if snap.IncomingCall != nil {
		t.Fatalf("ringing record while busy must be ignored, got %+v", snap.IncomingCall)
	}
}

func TestMeetingURLRefetch(t *testing.T) {
	f := newFixture(t, "bob")

	// Persisted record now has the url, but the change event was
	// emitted before the media provider finished.
	rec := incomingRecord("call-1")
	withURL := rec
	withURL.MeetingURL = "https://meet.test/call-1"
	_ = f.store.CreateRecord(context.Background(), withURL)

	f.sess.HandleRecord(rec)
	if v := f.sess.Snapshot().IncomingCall; v == nil || v.MeetingURL != "" {
		t.Fatalf("precondition: view should start without url")
	}

	waitFor(t, func() bool {
		v := f.sess.Snapshot().IncomingCall
		return v != nil && v.MeetingURL == "https://meet.test/call-1"
	}, "re-fetch fills meeting url")
}

func TestCallerNameLookup(t *testing.T) {
	f := newFixture(t, "bob")
	f.names.Set("alice", "Alice A.")

	f.sess.HandleRecord(incomingRecord("call-1"))

	waitFor(t, func() bool {
		v := f.sess.Snapshot().IncomingCall
		return v != nil && v.CallerName == "Alice A."
	}, "caller name resolved")
}

func TestAnswerCall(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)

	if err := f.sess.AnswerCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	snap := f.sess.Snapshot()
	if snap.State != StateActive || snap.IncomingCall != nil {
		t.Fatalf("answer should clear incoming and go active: %+v", snap)
	}
	if !snap.IsInActiveCall {
		t.Fatalf("expected in-active-call after answer")
	}

	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusAnswered) == 1 }, "answered persisted")
}

func TestAnswerCall_NoIncoming(t *testing.T) {
	f := newFixture(t, "bob")
	if err := f.sess.AnswerCall(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}
}

func TestRejectCall_TwiceWritesOnce(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)

	if err := f.sess.RejectCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.sess.Snapshot().IncomingCall != nil {
		t.Fatalf("incoming must be nil immediately after the first reject")
	}
	if err := f.sess.RejectCall(context.Background()); err != nil {
		t.Fatalf("second reject must be a no-op, got %v", err)
	}

	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusRejected) == 1 }, "rejected persisted")
	time.Sleep(30 * time.Millisecond)
	if n := f.store.StatusWrites(calls.StatusRejected); n != 1 {
		t.Fatalf("expected exactly one rejected write, got %d", n)
	}
	if f.sess.Snapshot().State != StateIdle {
		t.Fatalf("expected idle after reject")
	}
}

func TestTerminalRecordClearsRinging(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	f.sess.HandleRecord(rec)

	ended := rec
	ended.Status = calls.StatusEnded
	f.sess.HandleRecord(ended)

	snap := f.sess.Snapshot()
	if snap.IncomingCall != nil || snap.State != StateIdle {
		t.Fatalf("terminal record must clear state: %+v", snap)
	}
}

func TestTerminalSignalClearsRinging(t *testing.T) {
	f := newFixture(t, "bob")

	f.sess.HandleRecord(incomingRecord("call-1"))
	f.sess.HandleSignal(calls.Signal{
		ID: "sig-end", FromUserID: "alice", ToUserID: "bob",
		CallID: "call-1", Type: calls.SignalEnd,
	})

	snap := f.sess.Snapshot()
	if snap.IncomingCall != nil || snap.State != StateIdle {
		t.Fatalf("terminal signal must clear state: %+v", snap)
	}
}

func TestTerminal_UntrackedCallDiscarded(t *testing.T) {
	f := newFixture(t, "bob")

	f.sess.HandleRecord(incomingRecord("call-1"))

	other := incomingRecord("call-2")
	other.Status = calls.StatusMissed
	f.sess.HandleRecord(other)

	snap := f.sess.Snapshot()
	if snap.IncomingCall == nil || snap.IncomingCall.CallID != "call-1" {
		t.Fatalf("terminal for untracked call must not touch the view: %+v", snap)
	}
}

func TestTerminalRecord_ClearsActiveSession(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)
	if err := f.sess.AnswerCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	ended := rec
	ended.Status = calls.StatusEnded
	f.sess.HandleRecord(ended)

	snap := f.sess.Snapshot()
	if snap.State != StateIdle || snap.InterfaceOpen {
		t.Fatalf("remote terminal must tear down the active session: %+v", snap)
	}
}

func TestEndCall_GraceDelay(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)
	if err := f.sess.AnswerCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if err := f.sess.EndCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Interface closes synchronously; state holds at ending until the
	// grace delay elapses.
	snap := f.sess.Snapshot()
	if snap.InterfaceOpen {
		t.Fatalf("interface must close synchronously")
	}
	if snap.State != StateEnding {
		t.Fatalf("expected ending during grace window, got %q", snap.State)
	}

	waitFor(t, func() bool { return f.sess.Snapshot().State == StateIdle }, "grace reset to idle")
	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusEnded) == 1 }, "ended persisted")
}

func TestEndCall_OutgoingResolvesMissed(t *testing.T) {
	f := newFixture(t, "bob")
	f.markOnline(t, "carol")

	if err := f.sess.StartVoiceCall(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	waitFor(t, func() bool { return f.store.RecordCount() == 1 }, "record created")

	if err := f.sess.EndCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	waitFor(t, func() bool { return f.sess.Snapshot().State == StateIdle }, "reset to idle")
	// Cancelling an unanswered attempt resolves the record to missed,
	// never ended, so it cannot sit at ringing forever.
	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusMissed) == 1 }, "missed persisted")
	if n := f.store.StatusWrites(calls.StatusEnded); n != 0 {
		t.Fatalf("caller-side end of an unanswered call must not persist ended, got %d writes", n)
	}
}

func TestEndCall_WhileRingingIsNoOp(t *testing.T) {
	f := newFixture(t, "bob")

	f.sess.HandleRecord(incomingRecord("call-1"))

	if err := f.sess.EndCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Declining an incoming call is RejectCall's job; end must leave the
	// ring untouched rather than strand the view at idle.
	snap := f.sess.Snapshot()
	if snap.State != StateRinging || snap.IncomingCall == nil {
		t.Fatalf("end while ringing must be a no-op: %+v", snap)
	}
}

func TestRingTimeout_IncomingResolvesMissed(t *testing.T) {
	f := newFixtureOpts(t, "bob", Options{
		EndGraceDelay:        testGraceDelay,
		MeetingURLRetryDelay: testRetryDelay,
		RingTimeout:          testRingTimeout,
	})

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)

	waitFor(t, func() bool { return f.sess.Snapshot().State == StateIdle }, "ring timeout stops ringing")
	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusMissed) == 1 }, "missed persisted")
	if f.sess.Snapshot().IncomingCall != nil {
		t.Fatalf("timed-out incoming view must be cleared")
	}
}

func TestRingTimeout_AnsweredCallUnaffected(t *testing.T) {
	f := newFixtureOpts(t, "bob", Options{
		EndGraceDelay:        testGraceDelay,
		MeetingURLRetryDelay: testRetryDelay,
		RingTimeout:          testRingTimeout,
	})

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)
	if err := f.sess.AnswerCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	time.Sleep(testRingTimeout * 3)
	if got := f.sess.Snapshot().State; got != StateActive {
		t.Fatalf("ring timeout must not touch an answered call, got %q", got)
	}
	if n := f.store.StatusWrites(calls.StatusMissed); n != 0 {
		t.Fatalf("expected no missed write after answer, got %d", n)
	}
}

func TestRingTimeout_OutgoingResolvesMissed(t *testing.T) {
	f := newFixtureOpts(t, "bob", Options{
		EndGraceDelay:        testGraceDelay,
		MeetingURLRetryDelay: testRetryDelay,
		RingTimeout:          testRingTimeout,
	})
	f.markOnline(t, "carol")

	if err := f.sess.StartVoiceCall(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	waitFor(t, func() bool { return f.store.RecordCount() == 1 }, "record created")

	waitFor(t, func() bool { return f.store.StatusWrites(calls.StatusMissed) == 1 }, "missed persisted")
	snap := f.sess.Snapshot()
	if snap.State != StateIdle || snap.InterfaceOpen || snap.OutgoingCall != nil {
		t.Fatalf("unanswered outgoing attempt must tear down at timeout: %+v", snap)
	}
}

func TestReturnToCall_CancelsGraceReset(t *testing.T) {
	f := newFixture(t, "bob")

	rec := incomingRecord("call-1")
	_ = f.store.CreateRecord(context.Background(), rec)
	f.sess.HandleRecord(rec)
	if err := f.sess.AnswerCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := f.sess.EndCall(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if !f.sess.ReturnToCall() {
		t.Fatalf("expected a session to return to during grace window")
	}

	time.Sleep(testGraceDelay * 3)
	snap := f.sess.Snapshot()
	if snap.State != StateActive || !snap.InterfaceOpen {
		t.Fatalf("return-to-call must survive the grace reset: %+v", snap)
	}
}

func TestReturnToCall_NothingToReturnTo(t *testing.T) {
	f := newFixture(t, "bob")
	if f.sess.ReturnToCall() {
		t.Fatalf("no session should exist")
	}
}

func TestDisabledCoordinator(t *testing.T) {
	fl := flags.NewStatic(map[string]bool{})
	coord, err := NewCoordinator(context.Background(), fl, Deps{}, Options{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := coord.(Disabled); !ok {
		t.Fatalf("expected Disabled variant, got %T", coord)
	}

	var denied *DeniedError
	if err := coord.StartVoiceCall(context.Background(), "carol"); !errors.As(err, &denied) {
		t.Fatalf("expected denial from disabled coordinator, got %v", err)
	}
	if err := coord.EndCall(context.Background()); err != nil {
		t.Fatalf("disabled no-ops must not error, got %v", err)
	}
	if snap := coord.Snapshot(); snap.State != StateIdle || snap.IsCallActive {
		t.Fatalf("disabled snapshot must be idle: %+v", snap)
	}
}
