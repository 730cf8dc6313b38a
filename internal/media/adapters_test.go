package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint acknowledges joins and records control frames.
type fakeEndpoint struct {
	t      *testing.T
	tokens *TokenIssuer
	reject string

	mu       sync.Mutex
	frames   []controlMessage
	auth     []string
	conns    []*websocket.Conn
	accepted chan struct{}
}

func newFakeEndpoint(t *testing.T, tokens *TokenIssuer) (*fakeEndpoint, string) {
	t.Helper()
	f := &fakeEndpoint{t: t, tokens: tokens, accepted: make(chan struct{}, 4)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	var join controlMessage
	if err := conn.ReadJSON(&join); err != nil {
		return
	}
	f.record(join)

	if reject := f.rejection(); reject != "" {
		_ = conn.WriteJSON(controlMessage{Type: "error", Error: reject})
		return
	}
	if f.tokens != nil {
		if _, err := f.tokens.Verify(join.Token); err != nil {
			_ = conn.WriteJSON(controlMessage{Type: "error", Error: "bad token"})
			return
		}
	}
	_ = conn.WriteJSON(controlMessage{Type: "joined", Channel: join.Channel})
	f.accepted <- struct{}{}

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.record(msg)
	}
}

func (f *fakeEndpoint) setReject(reason string) {
	f.mu.Lock()
	f.reject = reason
	f.mu.Unlock()
}

func (f *fakeEndpoint) rejection() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reject
}

func (f *fakeEndpoint) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func (f *fakeEndpoint) record(m controlMessage) {
	f.mu.Lock()
	f.frames = append(f.frames, m)
	f.mu.Unlock()
}

func (f *fakeEndpoint) send(m controlMessage) {
	f.mu.Lock()
	conn := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	_ = conn.WriteJSON(m)
}

func (f *fakeEndpoint) framesOfType(typ string) []controlMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []controlMessage
	for _, m := range f.frames {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for media event")
		return Event{}
	}
}

func TestCentralized_JoinPresentsRoomToken(t *testing.T) {
	tokens := NewTokenIssuer("chat", "room-secret", time.Hour)
	ep, url := newFakeEndpoint(t, tokens)
	a := NewCentralized(url, tokens, nil)

	err := a.Join(context.Background(), JoinRequest{PeerID: "alice", Channel: "dm_alice_bob", Video: true})
	require.NoError(t, err)

	e := nextEvent(t, a.Events())
	assert.Equal(t, EventConnected, e.Type)
	assert.Equal(t, "dm_alice_bob", e.Channel)

	joins := ep.framesOfType("join")
	require.Len(t, joins, 1)
	claims, err := tokens.Verify(joins[0].Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "dm_alice_bob", claims.Channel)
	assert.True(t, strings.HasPrefix(ep.authHeaders()[0], "Bearer "))

	require.ErrorIs(t, a.Join(context.Background(), JoinRequest{PeerID: "alice", Channel: "other"}), ErrAlreadyJoined)
	require.NoError(t, a.Leave(context.Background()))
}

func TestDecentralized_RejectedJoin(t *testing.T) {
	ep, url := newFakeEndpoint(t, nil)
	ep.setReject("mesh unavailable")
	a := NewDecentralized(url, nil)

	err := a.Join(context.Background(), JoinRequest{PeerID: "alice", Channel: "mesh-1"})
	require.ErrorIs(t, err, ErrJoinRejected)
	assert.Contains(t, err.Error(), "mesh unavailable")

	// A failed join leaves the adapter free for the next attempt.
	ep.setReject("")
	require.NoError(t, a.Join(context.Background(), JoinRequest{PeerID: "alice", Channel: "mesh-2"}))
}

func TestDecentralized_TogglesAndRemoteHangup(t *testing.T) {
	ep, url := newFakeEndpoint(t, nil)
	a := NewDecentralized(url, nil)

	_, err := a.ToggleMute(context.Background())
	require.ErrorIs(t, err, ErrNotJoined)

	require.NoError(t, a.Join(context.Background(), JoinRequest{PeerID: "alice", Channel: "mesh-1"}))
	nextEvent(t, a.Events())
	<-ep.accepted

	muted, err := a.ToggleMute(context.Background())
	require.NoError(t, err)
	assert.True(t, muted)
	muted, err = a.ToggleMute(context.Background())
	require.NoError(t, err)
	assert.False(t, muted)

	sharing, err := a.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)

	ep.send(controlMessage{Type: "peer-left", PeerID: "bob"})
	e := nextEvent(t, a.Events())
	assert.Equal(t, EventRemoteHangup, e.Type)
	assert.Equal(t, "bob", e.PeerID)
	assert.Equal(t, ProviderDecentralized, e.Provider)

	require.Eventually(t, func() bool { return len(ep.framesOfType("mute")) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestTokenIssuer_RejectsForeignSecret(t *testing.T) {
	a := NewTokenIssuer("chat", "one", time.Hour)
	b := NewTokenIssuer("chat", "two", time.Hour)

	tok, err := a.Issue("alice", "dm_alice_bob", false)
	require.NoError(t, err)

	_, err = b.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidRoomToken)
}

func TestTokenIssuer_Expiry(t *testing.T) {
	issuer := NewTokenIssuer("chat", "secret", time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }

	tok, err := issuer.Issue("alice", "dm_alice_bob", true)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = issuer.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidRoomToken)
}

func TestJoiner_RoutesByProvider(t *testing.T) {
	central := NewLoopback(ProviderCentralized)
	j := NewJoiner("alice", time.Second, central)
	defer j.Close()

	assert.True(t, j.Configured(ProviderCentralized))
	assert.False(t, j.Configured(ProviderDecentralized))

	require.ErrorIs(t, j.Join(context.Background(), ProviderDecentralized, "mesh-1", false), ErrNotConfigured)
	require.NoError(t, j.Join(context.Background(), ProviderCentralized, "dm_alice_bob", true))
	assert.Equal(t, "dm_alice_bob", central.Channel())
	assert.Equal(t, "alice", central.Joins()[0].PeerID)

	on, err := j.Toggle(context.Background(), ProviderCentralized, ToggleVideo)
	require.NoError(t, err)
	assert.False(t, on)

	central.HangUpRemote("bob")
	select {
	case e := <-j.Events():
		assert.Equal(t, EventRemoteHangup, e.Type)
	case <-time.After(time.Second):
		t.Fatalf("expected forwarded event")
	}

	require.NoError(t, j.Leave(context.Background(), ProviderCentralized))
	assert.Equal(t, "", central.Channel())
}

func TestJoiner_TimesOutSlowJoin(t *testing.T) {
	slow := NewLoopback(ProviderDecentralized)
	release := slow.HoldJoins()
	defer release()

	j := NewJoiner("alice", 20*time.Millisecond, slow)
	defer j.Close()

	err := j.Join(context.Background(), ProviderDecentralized, "mesh-1", false)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
