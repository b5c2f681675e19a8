package feed

import (
	"context"

	"school-platform/internal/calls"
)

// Feed is the change-feed abstraction the call coordinator subscribes
// to: call-record changes filtered by callee, call-signal inserts
// filtered by recipient.
//
// Delivery contract: order is preserved within one stream but not
// across the record and signal streams, and events may be duplicated.
// Consumers must apply them with idempotent, commutative merges.

type RecordHandler func(calls.Record)
type SignalHandler func(calls.Signal)

type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

type Feed interface {
	PublishRecord(ctx context.Context, rec calls.Record) error
	PublishSignal(ctx context.Context, sig calls.Signal) error

	SubscribeRecords(ctx context.Context, calleeID string, h RecordHandler) (Subscription, error)
	SubscribeSignals(ctx context.Context, recipientID string, h SignalHandler) (Subscription, error)
}
