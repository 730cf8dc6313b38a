package media

import (
	"context"
	"errors"
)

// Provider identifies one of the two interchangeable media backends.
type Provider string

const (
	ProviderNone          Provider = ""
	ProviderCentralized   Provider = "centralized"
	ProviderDecentralized Provider = "decentralized"
)

func (p Provider) Valid() bool {
	return p == ProviderCentralized || p == ProviderDecentralized
}

// Adapter is the provider-agnostic interface used by call logic.
//
// Rules:
// - No provider SDK or wire details outside the adapters.
// - An adapter holds at most one joined channel at a time.
// - Join returns nil only once the provider confirmed the channel.
type Adapter interface {
	Provider() Provider

	Join(ctx context.Context, req JoinRequest) error
	Leave(ctx context.Context) error

	ToggleMute(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)

	// Events reports connection changes and remote hang-ups.
	Events() <-chan Event
}

type JoinRequest struct {
	PeerID  string
	Channel string
	Video   bool
}

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventRemoteHangup EventType = "remote_hangup"
)

// Event is emitted by adapters; Channel is the channel it relates to.
type Event struct {
	Provider Provider
	Type     EventType
	Channel  string
	PeerID   string
}

// Toggle names a media control exposed to the UI.
type Toggle string

const (
	ToggleMute        Toggle = "mute"
	ToggleVideo       Toggle = "video"
	ToggleScreenShare Toggle = "screenshare"
)

func (t Toggle) Valid() bool {
	switch t {
	case ToggleMute, ToggleVideo, ToggleScreenShare:
		return true
	default:
		return false
	}
}

var (
	ErrNotConfigured = errors.New("media: provider not configured")
	ErrAlreadyJoined = errors.New("media: already joined a channel")
	ErrNotJoined     = errors.New("media: not joined")
	ErrJoinRejected  = errors.New("media: join rejected by provider")
	ErrUnknownToggle = errors.New("media: unknown toggle")
)
