package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"school-platform/internal/calls"
)

// Reconnect backoff bounds for a dropped pub/sub receive loop.
// Bounded exponential, reset on the first successful receive.
const (
	defaultBackoffMin = 250 * time.Millisecond
	defaultBackoffMax = 10 * time.Second
)

func recordChannel(calleeID string) string { return "calls.records." + calleeID }
func signalChannel(recipientID string) string { return "calls.signals." + recipientID }

// RedisFeed implements Feed over Redis pub/sub. Record events are
// published on a per-callee channel, signal events on a per-recipient
// channel, both as JSON.
type RedisFeed struct {
	rdb *redis.Client
	log *slog.Logger

	backoffMin time.Duration
	backoffMax time.Duration
}

type RedisFeedOptions struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func NewRedisFeed(rdb *redis.Client, log *slog.Logger, opts RedisFeedOptions) (*RedisFeed, error) {
	if rdb == nil {
		return nil, errors.New("feed: redis client is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = defaultBackoffMin
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	return &RedisFeed{rdb: rdb, log: log, backoffMin: opts.BackoffMin, backoffMax: opts.BackoffMax}, nil
}

func (f *RedisFeed) PublishRecord(ctx context.Context, rec calls.Record) error {
	if rec.CallID == "" || rec.CalleeID == "" {
		return errors.New("feed: record call_id and callee_id required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feed: marshal record: %w", err)
	}
	if err := f.rdb.Publish(ctx, recordChannel(rec.CalleeID), payload).Err(); err != nil {
		return fmt.Errorf("feed: publish record: %w", err)
	}
	return nil
}

func (f *RedisFeed) PublishSignal(ctx context.Context, sig calls.Signal) error {
	if sig.CallID == "" || sig.ToUserID == "" {
		return errors.New("feed: signal call_id and to_user_id required")
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("feed: marshal signal: %w", err)
	}
	if err := f.rdb.Publish(ctx, signalChannel(sig.ToUserID), payload).Err(); err != nil {
		return fmt.Errorf("feed: publish signal: %w", err)
	}
	return nil
}

func (f *RedisFeed) SubscribeRecords(ctx context.Context, calleeID string, h RecordHandler) (Subscription, error) {
	if calleeID == "" {
		return nil, errors.New("feed: callee_id required")
	}
	return f.subscribe(ctx, recordChannel(calleeID), func(payload []byte) {
		var rec calls.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			f.log.Warn("feed: bad record payload", "err", err)
			return
		}
		h(rec)
	})
}

func (f *RedisFeed) SubscribeSignals(ctx context.Context, recipientID string, h SignalHandler) (Subscription, error) {
	if recipientID == "" {
		return nil, errors.New("feed: recipient_id required")
	}
	return f.subscribe(ctx, signalChannel(recipientID), func(payload []byte) {
		var sig calls.Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			f.log.Warn("feed: bad signal payload", "err", err)
			return
		}
		h(sig)
	})
}

func (f *RedisFeed) subscribe(ctx context.Context, channel string, deliver func([]byte)) (Subscription, error) {
	ps := f.rdb.Subscribe(ctx, channel)
	// Confirm the subscription before returning so callers never miss
	// events published after a successful Subscribe*.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("feed: subscribe %s: %w", channel, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go f.receiveLoop(ctx, channel, ps, sub.done, deliver)
	return sub, nil
}

func (f *RedisFeed) receiveLoop(ctx context.Context, channel string, ps *redis.PubSub, done <-chan struct{}, deliver func([]byte)) {
	backoff := f.backoffMin
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			f.log.Warn("feed: receive failed, retrying", "channel", channel, "backoff", backoff, "err", err)
			backoff *= 2
			if backoff > f.backoffMax {
				backoff = f.backoffMax
			}
			continue
		}
		backoff = f.backoffMin
		deliver([]byte(msg.Payload))
	}
}

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ps.Close()
	})
}
