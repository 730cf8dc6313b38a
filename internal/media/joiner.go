package media

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Joiner routes join/leave/toggle requests to the adapter of the requested
// provider and merges adapter events into one stream.
type Joiner struct {
	peerID   string
	timeout  time.Duration
	adapters map[Provider]Adapter

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewJoiner(peerID string, timeout time.Duration, adapters ...Adapter) *Joiner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	j := &Joiner{
		peerID:   peerID,
		timeout:  timeout,
		adapters: make(map[Provider]Adapter, len(adapters)),
		events:   make(chan Event, 32),
		done:     make(chan struct{}),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		j.adapters[a.Provider()] = a
		go j.forward(a.Events())
	}
	return j
}

func (j *Joiner) forward(in <-chan Event) {
	for {
		select {
		case <-j.done:
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			select {
			case j.events <- e:
			case <-j.done:
				return
			}
		}
	}
}

func (j *Joiner) Configured(p Provider) bool {
	_, ok := j.adapters[p]
	return ok
}

// Join blocks until the provider confirmed the channel or the join timeout elapsed.
func (j *Joiner) Join(ctx context.Context, p Provider, channel string, video bool) error {
	a, ok := j.adapters[p]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConfigured, p)
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return a.Join(ctx, JoinRequest{PeerID: j.peerID, Channel: channel, Video: video})
}

func (j *Joiner) Leave(ctx context.Context, p Provider) error {
	a, ok := j.adapters[p]
	if !ok {
		return nil
	}
	return a.Leave(ctx)
}

func (j *Joiner) Toggle(ctx context.Context, p Provider, t Toggle) (bool, error) {
	a, ok := j.adapters[p]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotConfigured, p)
	}
	switch t {
	case ToggleMute:
		return a.ToggleMute(ctx)
	case ToggleVideo:
		return a.ToggleVideo(ctx)
	case ToggleScreenShare:
		return a.ToggleScreenShare(ctx)
	default:
		return false, ErrUnknownToggle
	}
}

func (j *Joiner) Events() <-chan Event { return j.events }

func (j *Joiner) Close() {
	j.closeOnce.Do(func() { close(j.done) })
}
