package flags

import (
	"context"
	"sync"
)

// Capability keys checked before a call attempt. Keep these stable;
// they are part of the flag-provider contract.
const (
	KeyVoiceCalls = "voice_calls_enabled"
	KeyVideoCalls = "video_calls_enabled"
)

// Flags is the feature-flag collaborator. Storage and rollout mechanics
// live elsewhere; this core only asks boolean capability questions.
type Flags interface {
	Enabled(ctx context.Context, key string) bool
}

// Static is a fixed in-process flag set, decided at construction from
// config. Safe for concurrent use; Set exists for tests.
type Static struct {
	mu     sync.RWMutex
	values map[string]bool
}

func NewStatic(values map[string]bool) *Static {
	out := make(map[string]bool, len(values))
	for k, v := range values {
		out[k] = v
	}
	return &Static{values: out}
}

func (s *Static) Enabled(ctx context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *Static) Set(key string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = enabled
}
