package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxPeerID ctxKey = iota

func WithPeer(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxPeerID, peerID)
}

func PeerID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxPeerID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("peer_id not in context")
}
