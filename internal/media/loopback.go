package media

import (
	"context"
	"sync"
)

// Loopback is an in-process adapter. Useful for tests and for running the
// agent without a media endpoint.
type Loopback struct {
	provider Provider

	mu      sync.Mutex
	channel string
	fail    error
	block   chan struct{}
	joins   []JoinRequest
	leaves  int
	toggles map[Toggle]bool

	events chan Event
}

func NewLoopback(p Provider) *Loopback {
	return &Loopback{provider: p, toggles: map[Toggle]bool{}, events: make(chan Event, 16)}
}

func (l *Loopback) Provider() Provider { return l.provider }

// FailJoins makes subsequent joins return err; nil restores success.
func (l *Loopback) FailJoins(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

// HoldJoins makes joins wait until the returned release func is called.
func (l *Loopback) HoldJoins() (release func()) {
	ch := make(chan struct{})
	l.mu.Lock()
	l.block = ch
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.block == ch {
				l.block = nil
			}
			l.mu.Unlock()
			close(ch)
		})
	}
}

func (l *Loopback) Join(ctx context.Context, req JoinRequest) error {
	l.mu.Lock()
	block := l.block
	l.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.joins = append(l.joins, req)
	if l.fail != nil {
		return l.fail
	}
	if l.channel != "" {
		return ErrAlreadyJoined
	}
	l.channel = req.Channel
	l.toggles = map[Toggle]bool{ToggleVideo: req.Video}
	return nil
}

func (l *Loopback) Leave(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.channel != "" {
		l.leaves++
	}
	l.channel = ""
	return nil
}

func (l *Loopback) ToggleMute(ctx context.Context) (bool, error) {
	return l.toggle(ToggleMute)
}

func (l *Loopback) ToggleVideo(ctx context.Context) (bool, error) {
	return l.toggle(ToggleVideo)
}

func (l *Loopback) ToggleScreenShare(ctx context.Context) (bool, error) {
	return l.toggle(ToggleScreenShare)
}

func (l *Loopback) toggle(t Toggle) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.channel == "" {
		return false, ErrNotJoined
	}
	l.toggles[t] = !l.toggles[t]
	return l.toggles[t], nil
}

func (l *Loopback) Events() <-chan Event { return l.events }

// HangUpRemote simulates the other participant leaving the joined channel.
func (l *Loopback) HangUpRemote(peerID string) {
	l.mu.Lock()
	ch := l.channel
	l.mu.Unlock()
	l.events <- Event{Provider: l.provider, Type: EventRemoteHangup, Channel: ch, PeerID: peerID}
}

// Drop simulates losing the connection to the media endpoint.
func (l *Loopback) Drop() {
	l.mu.Lock()
	ch := l.channel
	l.channel = ""
	l.mu.Unlock()
	l.events <- Event{Provider: l.provider, Type: EventDisconnected, Channel: ch}
}

// Channel returns the currently joined channel, or "".
func (l *Loopback) Channel() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channel
}

func (l *Loopback) Joins() []JoinRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]JoinRequest, len(l.joins))
	copy(out, l.joins)
	return out
}

func (l *Loopback) Leaves() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaves
}
