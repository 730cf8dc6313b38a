package media

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Centralized drives a hosted SFU. Every join presents a room token.
type Centralized struct {
	link   *controlLink
	tokens *TokenIssuer
}

func NewCentralized(url string, tokens *TokenIssuer, log *slog.Logger) *Centralized {
	return &Centralized{link: newControlLink(ProviderCentralized, url, log), tokens: tokens}
}

func (c *Centralized) Provider() Provider { return ProviderCentralized }

func (c *Centralized) Join(ctx context.Context, req JoinRequest) error {
	if c.tokens == nil {
		return errors.New("media: centralized adapter has no token issuer")
	}
	token, err := c.tokens.Issue(req.PeerID, req.Channel, req.Video)
	if err != nil {
		return err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return c.link.join(ctx, req, token, h)
}

func (c *Centralized) Leave(ctx context.Context) error { return c.link.leave(ctx) }

func (c *Centralized) ToggleMute(ctx context.Context) (bool, error) {
	return c.link.toggle(ctx, ToggleMute)
}

func (c *Centralized) ToggleVideo(ctx context.Context) (bool, error) {
	return c.link.toggle(ctx, ToggleVideo)
}

func (c *Centralized) ToggleScreenShare(ctx context.Context) (bool, error) {
	return c.link.toggle(ctx, ToggleScreenShare)
}

func (c *Centralized) Events() <-chan Event { return c.link.events }

// Decentralized drives the local mesh node. Peers find each other by channel
// name, so no credentials are exchanged.
type Decentralized struct {
	link *controlLink
}

func NewDecentralized(url string, log *slog.Logger) *Decentralized {
	return &Decentralized{link: newControlLink(ProviderDecentralized, url, log)}
}

func (d *Decentralized) Provider() Provider { return ProviderDecentralized }

func (d *Decentralized) Join(ctx context.Context, req JoinRequest) error {
	return d.link.join(ctx, req, "", nil)
}

func (d *Decentralized) Leave(ctx context.Context) error { return d.link.leave(ctx) }

func (d *Decentralized) ToggleMute(ctx context.Context) (bool, error) {
	return d.link.toggle(ctx, ToggleMute)
}

func (d *Decentralized) ToggleVideo(ctx context.Context) (bool, error) {
	return d.link.toggle(ctx, ToggleVideo)
}

func (d *Decentralized) ToggleScreenShare(ctx context.Context) (bool, error) {
	return d.link.toggle(ctx, ToggleScreenShare)
}

func (d *Decentralized) Events() <-chan Event { return d.link.events }
