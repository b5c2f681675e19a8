package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is the boundary to the third-party real-time media SDK.
//
// Rules:
// - No SDK calls outside media adapters.
// - Business logic sees only the meeting URL; media transport,
//   tokens, and room lifecycle stay behind this interface.
type Provider interface {
	Name() string
	CreateMeeting(ctx context.Context, req MeetingRequest) (Meeting, error)
}

type MeetingRequest struct {
	// CallID keys the meeting room to the call record.
	CallID string `json:"call_id"`
	HostID string `json:"host_id"`

	// Video requests a camera-enabled room; false means voice only.
	Video bool `json:"video"`
}

type Meeting struct {
	URL string `json:"url"`
}

// StaticProvider derives meeting URLs from a base URL. Used for local
// development and tests; a real deployment swaps in an SDK adapter.
type StaticProvider struct {
	BaseURL string
}

func NewStaticProvider(baseURL string) (*StaticProvider, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("media: base url required")
	}
	return &StaticProvider{BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) CreateMeeting(ctx context.Context, req MeetingRequest) (Meeting, error) {
	if req.CallID == "" {
		return Meeting{}, errors.New("media: call_id required")
	}
	return Meeting{URL: fmt.Sprintf("%s/%s", p.BaseURL, req.CallID)}, nil
}
