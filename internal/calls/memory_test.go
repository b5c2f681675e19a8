package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRecord(callID string) Record {
	return Record{
		CallID:    callID,
		SchoolID:  "school-1",
		CallerID:  "alice",
		CalleeID:  "bob",
		Type:      CallTypeVoice,
		Status:    StatusRinging,
		StartedAt: time.Now(),
	}
}

func TestMemoryStore_SetStatusTerminalOnce(t *testing.T) {
	m := NewMemoryStore()
	_ = m.CreateRecord(context.Background(), testRecord("call-1"))

	_, applied, err := m.SetStatus(context.Background(), "call-1", StatusRejected, time.Now())
	if err != nil || !applied {
		t.Fatalf("first terminal write must apply: applied=%v err=%v", applied, err)
	}
	rec, applied, err := m.SetStatus(context.Background(), "call-1", StatusEnded, time.Now())
	if err != nil || applied {
		t.Fatalf("second terminal write must not apply: applied=%v err=%v", applied, err)
	}
	if rec.Status != StatusRejected {
		t.Fatalf("status overwritten after terminal: %q", rec.Status)
	}
	if got := m.StatusWrites(StatusRejected); got != 1 {
		t.Fatalf("expected one applied transition, got %d", got)
	}
}

func TestMemoryStore_CreateWithSignal(t *testing.T) {
	m := NewMemoryStore()
	rec := testRecord("call-1")
	sig := Signal{
		ID: "sig-1", FromUserID: "alice", ToUserID: "bob",
		CallID: "call-1", Type: SignalOffer, CreatedAt: time.Now(),
	}

	if err := m.CreateWithSignal(context.Background(), rec, sig); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.RecordCount() != 1 || len(m.Signals()) != 1 {
		t.Fatalf("expected record and signal stored, got %d/%d", m.RecordCount(), len(m.Signals()))
	}
}

func TestMemoryStore_CreateWithSignal_ValidatesBeforeWriting(t *testing.T) {
	m := NewMemoryStore()
	rec := testRecord("call-1")

	err := m.CreateWithSignal(context.Background(), rec, Signal{CallID: "call-1"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if m.RecordCount() != 0 {
		t.Fatalf("invalid signal must not leave a record behind")
	}
}
