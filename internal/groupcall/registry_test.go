package groupcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-calls/internal/directory"
	"chat-calls/internal/media"
	"chat-calls/internal/routing"
)

var bothProviders = routing.Preferences{CentralizedConfigured: true, DecentralizedConfigured: true}

type peer struct {
	reg     *Registry
	central *media.Loopback
	mesh    *media.Loopback
}

func newPeer(id string, store Store, dir directory.Directory) peer {
	central := media.NewLoopback(media.ProviderCentralized)
	mesh := media.NewLoopback(media.ProviderDecentralized)
	j := media.NewJoiner(id, time.Second, central, mesh)
	return peer{reg: NewRegistry(id, store, dir, j), central: central, mesh: mesh}
}

func setup(t *testing.T, members ...string) (*MemoryStore, *directory.Memory) {
	t.Helper()
	dir := directory.NewMemory()
	for _, m := range members {
		require.NoError(t, dir.Add(context.Background(), "g1", m))
	}
	return NewMemoryStore(), dir
}

func TestStartOrJoin_FirstParticipantCreates(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)

	s, err := alice.reg.StartOrJoin(ctx, "g1", true, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	assert.Equal(t, "grp_g1", s.ChannelName)
	assert.Equal(t, media.ProviderCentralized, s.Provider)
	assert.Equal(t, []string{"alice"}, s.Participants)
	assert.Equal(t, "grp_g1", alice.central.Channel())
	assert.True(t, alice.reg.InCall())

	bob := newPeer("bob", store, dir)
	joined, err := bob.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	assert.Equal(t, s.CallID, joined.CallID)
	assert.Equal(t, []string{"alice", "bob"}, joined.Participants)
	assert.Equal(t, "grp_g1", bob.central.Channel())
}

func TestStartOrJoin_RefusedWhileOneToOneCallActive(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice")
	alice := newPeer("alice", store, dir)

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Busy: true, Prefs: bothProviders})
	assert.ErrorIs(t, err, ErrBusy)

	_, ok, _ := store.Active(ctx, "g1")
	assert.False(t, ok, "no session may be created")
	assert.Empty(t, alice.central.Joins())
	assert.False(t, alice.reg.InCall())
}

func TestStartOrJoin_OneGroupCallAtATime(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice")
	require.NoError(t, dir.Add(ctx, "g2", "alice"))
	alice := newPeer("alice", store, dir)

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	_, err = alice.reg.StartOrJoin(ctx, "g2", false, JoinOptions{Prefs: bothProviders})
	assert.ErrorIs(t, err, ErrBusy)

	again, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	assert.Equal(t, "g1", again.GroupID)
	assert.Len(t, alice.central.Joins(), 1)
}

func TestStartOrJoin_NonMember(t *testing.T) {
	store, dir := setup(t, "alice")
	mallory := newPeer("mallory", store, dir)
	_, err := mallory.reg.StartOrJoin(context.Background(), "g1", false, JoinOptions{Prefs: bothProviders})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestStartOrJoin_CreatorFallsBackOnce(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice")
	alice := newPeer("alice", store, dir)
	alice.central.FailJoins(errors.New("sfu down"))

	s, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	assert.Equal(t, media.ProviderDecentralized, s.Provider)
	assert.Equal(t, "mesh-grp-g1", s.ChannelName)

	active, ok, _ := store.Active(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, s.CallID, active.CallID)
}

func TestStartOrJoin_BothProvidersFail(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice")
	alice := newPeer("alice", store, dir)
	alice.central.FailJoins(errors.New("sfu down"))
	alice.mesh.FailJoins(errors.New("mesh down"))

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	assert.ErrorIs(t, err, ErrJoinFailed)
	_, ok, _ := store.Active(ctx, "g1")
	assert.False(t, ok)
	assert.False(t, alice.reg.InCall())
}

func TestStartOrJoin_ExistingCallOnUnconfiguredProvider(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)
	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	bob := newPeer("bob", store, dir)
	_, err = bob.reg.StartOrJoin(ctx, "g1", false, JoinOptions{
		Prefs: routing.Preferences{DecentralizedConfigured: true},
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestLeave_LastParticipantEndsSession(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)
	bob := newPeer("bob", store, dir)

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	_, err = bob.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	require.NoError(t, alice.reg.Leave(ctx, "g1"))
	assert.False(t, alice.reg.InCall())
	assert.Equal(t, 1, alice.central.Leaves())
	s, ok, _ := store.Active(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, s.Participants)

	require.NoError(t, bob.reg.Leave(ctx, "g1"))
	_, ok, _ = store.Active(ctx, "g1")
	assert.False(t, ok)

	assert.ErrorIs(t, bob.reg.Leave(ctx, "g1"), ErrNotJoined)
}

func TestObserve_NoticeLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)
	bob := newPeer("bob", store, dir)

	updates, err := bob.reg.Watch(ctx)
	require.NoError(t, err)

	s, err := alice.reg.StartOrJoin(ctx, "g1", true, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	u := <-updates
	assert.True(t, bob.reg.Observe(ctx, u, NoticeOptions{DoNotDisturb: true}))
	notices := bob.reg.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, s.CallID, notices[0].CallID)
	assert.True(t, notices[0].Silent)
	assert.True(t, notices[0].IsVideo)

	// The creator never gets a notice for its own call.
	alice.reg.Observe(ctx, u, NoticeOptions{})
	assert.Empty(t, alice.reg.Notices())

	assert.True(t, bob.reg.Dismiss("g1"))
	assert.Empty(t, bob.reg.Notices())
	assert.False(t, bob.reg.Observe(ctx, u, NoticeOptions{}), "dismissed call must not ring again")
	_, ok, _ := store.Active(ctx, "g1")
	assert.True(t, ok, "dismissing has no effect on the session")
}

func TestRefresh_PicksUpMissedSessionsAndEnds(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)
	bob := newPeer("bob", store, dir)

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	changed, err := bob.reg.Refresh(ctx, NoticeOptions{})
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, bob.reg.Notices(), 1)
	assert.False(t, bob.reg.Notices()[0].Silent)

	require.NoError(t, alice.reg.Leave(ctx, "g1"))
	changed, err = bob.reg.Refresh(ctx, NoticeOptions{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, bob.reg.Notices())
}

func TestObserve_SessionEndedUnderParticipant(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice")
	alice := newPeer("alice", store, dir)

	s, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	require.NoError(t, store.End(ctx, "g1", s.CallID))

	assert.True(t, alice.reg.Observe(ctx, Update{GroupID: "g1", Session: Session{GroupID: "g1", CallID: s.CallID}}, NoticeOptions{}))
	assert.False(t, alice.reg.InCall())
	assert.Equal(t, "", alice.central.Channel())
}

func TestMediaLost_DropsJoinedSession(t *testing.T) {
	ctx := context.Background()
	store, dir := setup(t, "alice", "bob")
	alice := newPeer("alice", store, dir)
	bob := newPeer("bob", store, dir)

	_, err := alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	_, err = bob.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)

	// A link on another provider or channel is not ours.
	dropped, err := alice.reg.MediaLost(ctx, media.ProviderDecentralized, "grp_g1")
	require.NoError(t, err)
	assert.False(t, dropped)
	dropped, err = alice.reg.MediaLost(ctx, media.ProviderCentralized, "dm_alice_bob")
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.True(t, alice.reg.InCall())

	dropped, err = alice.reg.MediaLost(ctx, media.ProviderCentralized, "grp_g1")
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.False(t, alice.reg.InCall())
	assert.Equal(t, media.ProviderNone, alice.reg.ActiveProvider())

	s, ok, _ := store.Active(ctx, "g1")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, s.Participants)

	// The provider can be joined again.
	_, err = alice.reg.StartOrJoin(ctx, "g1", false, JoinOptions{Prefs: bothProviders})
	require.NoError(t, err)
	assert.Equal(t, "grp_g1", alice.central.Channel())
}
