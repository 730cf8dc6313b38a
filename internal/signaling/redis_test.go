package signaling

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-calls/internal/calls"
	"chat-calls/pkg/utils"
)

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []calls.OfferStatus{calls.OfferRinging}, allowedFrom(calls.OfferAccepted))
	assert.Equal(t, []calls.OfferStatus{calls.OfferRinging}, allowedFrom(calls.OfferCancelled))
	assert.Equal(t, []calls.OfferStatus{calls.OfferRinging, calls.OfferAccepted}, allowedFrom(calls.OfferEnded))
}

func TestDecodeOffer_StatusFieldWins(t *testing.T) {
	fields := map[string]string{
		"offer":      `{"id":"o1","caller_peer_id":"alice","callee_peer_id":"bob","channel_name":"dm_alice_bob","call_kind":"video","status":"ringing"}`,
		"status":     "accepted",
		"updated_at": "2026-01-02T03:04:05Z",
	}
	o, err := decodeOffer(fields)
	require.NoError(t, err)
	assert.Equal(t, calls.OfferAccepted, o.Status)
	assert.Equal(t, calls.KindVideo, o.Kind)
	assert.Equal(t, 2026, o.UpdatedAt.Year())

	_, err = decodeOffer(map[string]string{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "offer:o1", offerKey("o1"))
	assert.Equal(t, "offers:latest:bob", latestKey("bob"))
	assert.Equal(t, "offers:bob", peerChannel("bob"))
}

// TestRedisStore_Roundtrip runs against a real server when REDIS_ADDR is set.
func TestRedisStore_Roundtrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()

	s := NewRedisStore(rdb, time.Minute)
	callee := "bob-" + time.Now().Format("150405.000000")
	sub, err := s.SubscribeToOffersFor(ctx, callee)
	require.NoError(t, err)

	id, err := s.CreateOffer(ctx, offer("alice", callee))
	require.NoError(t, err)
	assert.Equal(t, id, recv(t, sub).ID)

	_, err = s.UpdateOfferStatus(ctx, id, calls.OfferRejected)
	require.NoError(t, err)
	assert.Equal(t, calls.OfferRejected, recv(t, sub).Status)

	_, err = s.UpdateOfferStatus(ctx, id, calls.OfferCancelled)
	assert.ErrorIs(t, err, ErrOfferTerminal)

	latest, ok, err := s.QueryLatestOffer(ctx, callee)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, calls.OfferRejected, latest.Status)

	_, err = s.UpdateOfferStatus(ctx, "missing-"+id, calls.OfferEnded)
	assert.ErrorIs(t, err, ErrNotFound)
}
