package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-calls/internal/calls"
	"chat-calls/internal/media"
)

func offer(caller, callee string) calls.CallOffer {
	return calls.CallOffer{
		CallerPeerID:    caller,
		CalleePeerID:    callee,
		ChannelName:     "dm_" + caller + "_" + callee,
		Kind:            calls.KindAudio,
		CallerProviders: []media.Provider{media.ProviderCentralized},
	}
}

func recv(t *testing.T, ch <-chan calls.CallOffer) calls.CallOffer {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return o
	case <-time.After(time.Second):
		t.Fatal("no push received")
	}
	return calls.CallOffer{}
}

func TestMemoryStore_CreatePushesToBothPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	alice, err := s.SubscribeToOffersFor(ctx, "alice")
	require.NoError(t, err)
	bob, err := s.SubscribeToOffersFor(ctx, "bob")
	require.NoError(t, err)

	id, err := s.CreateOffer(ctx, offer("alice", "bob"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := recv(t, bob)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, calls.OfferRinging, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, id, recv(t, alice).ID)
}

func TestMemoryStore_RejectsInvalidOffers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	self := offer("alice", "alice")
	_, err := s.CreateOffer(ctx, self)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	noChannel := offer("alice", "bob")
	noChannel.ChannelName = ""
	_, err = s.CreateOffer(ctx, noChannel)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	answered := offer("alice", "bob")
	answered.Status = calls.OfferAccepted
	_, err = s.CreateOffer(ctx, answered)
	assert.ErrorIs(t, err, ErrInvalidOffer)
}

func TestMemoryStore_TerminalStatusIsWriteOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.CreateOffer(ctx, offer("alice", "bob"))
	require.NoError(t, err)

	_, err = s.UpdateOfferStatus(ctx, id, calls.OfferRejected)
	require.NoError(t, err)

	cur, err := s.UpdateOfferStatus(ctx, id, calls.OfferCancelled)
	assert.ErrorIs(t, err, ErrOfferTerminal)
	assert.True(t, IsRaceLoss(err))
	assert.Equal(t, calls.OfferRejected, cur.Status)
}

func TestMemoryStore_AcceptedMayOnlyEnd(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.CreateOffer(ctx, offer("alice", "bob"))
	require.NoError(t, err)

	_, err = s.UpdateOfferStatus(ctx, id, calls.OfferAccepted)
	require.NoError(t, err)

	_, err = s.UpdateOfferStatus(ctx, id, calls.OfferCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.UpdateOfferStatus(ctx, id, calls.OfferEnded)
	require.NoError(t, err)
	assert.Equal(t, calls.OfferEnded, got.Status)
}

func TestMemoryStore_UnknownOffer(t *testing.T) {
	_, err := NewMemoryStore().UpdateOfferStatus(context.Background(), "nope", calls.OfferEnded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentTerminalWritesHaveOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.CreateOffer(ctx, offer("alice", "bob"))
	require.NoError(t, err)

	results := make(chan error, 2)
	go func() { _, err := s.UpdateOfferStatus(ctx, id, calls.OfferCancelled); results <- err }()
	go func() { _, err := s.UpdateOfferStatus(ctx, id, calls.OfferRejected); results <- err }()

	var wins int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			assert.True(t, IsRaceLoss(err))
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_QueryLatestOffer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.QueryLatestOffer(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateOffer(ctx, offer("alice", "bob"))
	require.NoError(t, err)
	second, err := s.CreateOffer(ctx, offer("carol", "bob"))
	require.NoError(t, err)

	got, ok, err := s.QueryLatestOffer(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got.ID)
	assert.Equal(t, "carol", got.CallerPeerID)
}

func TestMemoryStore_SubscriptionClosesWithContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.SubscribeToOffersFor(ctx, "bob")
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, err = s.CreateOffer(context.Background(), offer("alice", "bob"))
	require.NoError(t, err)
}
