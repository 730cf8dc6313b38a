package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-calls/internal/agent"
	"chat-calls/internal/auth"
	"chat-calls/internal/calls"
	"chat-calls/internal/config"
	"chat-calls/internal/directory"
	"chat-calls/internal/groupcall"
	"chat-calls/internal/history"
	"chat-calls/internal/media"
	"chat-calls/internal/signaling"
)

type fixture struct {
	router *gin.Engine
	token  string
	alice  *agent.Agent
	bob    *agent.Agent
	auth   *auth.Manager
}

func runAgent(t *testing.T, id string, store signaling.Store, groups *groupcall.Registry, j *media.Joiner, rec *history.Recorder) *agent.Agent {
	t.Helper()
	a := agent.New(agent.Config{
		PeerID:            id,
		RingTimeout:       5 * time.Second,
		GraceWindow:       20 * time.Millisecond,
		GroupPollInterval: time.Hour,
	}, agent.Deps{Signaling: store, Media: j, History: rec, Groups: groups})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = a.Run(ctx); close(done) }()
	t.Cleanup(func() { cancel(); <-done; j.Close() })
	<-a.Ready()
	return a
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := signaling.NewMemoryStore()
	dir := directory.NewMemory()
	groupStore := groupcall.NewMemoryStore()

	aliceJoiner := media.NewJoiner("alice", time.Second,
		media.NewLoopback(media.ProviderCentralized), media.NewLoopback(media.ProviderDecentralized))
	aliceHistory := history.NewRecorder(history.NewMemoryRepo(), "alice")
	alice := runAgent(t, "alice", store,
		groupcall.NewRegistry("alice", groupStore, dir, aliceJoiner), aliceJoiner, aliceHistory)

	bobJoiner := media.NewJoiner("bob", time.Second, media.NewLoopback(media.ProviderCentralized))
	bob := runAgent(t, "bob", store, nil, bobJoiner, history.NewRecorder(history.NewMemoryRepo(), "bob"))

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, AgentKey: "key"})
	require.NoError(t, err)

	h := Handlers{Auth: m, Agent: alice, History: aliceHistory, Directory: dir}
	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	r.GET("/v1/ws", auth.RequireStreamToken(m, "alice"), h.Stream)
	v1 := r.Group("/v1", auth.RequireAccessToken(m, "alice"))
	v1.POST("/auth/stream-token", h.StreamToken)
	v1.GET("/state", h.State)
	v1.POST("/calls", h.StartCall)
	v1.POST("/calls/accept", h.Accept)
	v1.POST("/calls/reject", h.Reject)
	v1.POST("/calls/cancel", h.Cancel)
	v1.POST("/calls/end", h.End)
	v1.POST("/calls/toggle/:control", h.Toggle)
	v1.PATCH("/preferences", h.UpdatePreferences)
	v1.GET("/history", h.ListHistory)
	v1.GET("/history/summary", h.HistorySummary)
	v1.GET("/groups/calls", h.GroupSessions)
	v1.PUT("/groups/:group_id/membership", h.JoinGroup)
	v1.POST("/groups/:group_id/call", h.StartOrJoinGroup)
	v1.DELETE("/groups/:group_id/call", h.LeaveGroup)
	v1.DELETE("/groups/:group_id/notice", h.DismissGroupNotice)

	f := fixture{router: r, alice: alice, bob: bob, auth: m}
	f.token = f.login(t)
	return f
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f fixture) login(t *testing.T) string {
	t.Helper()
	f.token = ""
	w := f.do(t, http.MethodPost, "/v1/auth/login", gin.H{"agent_key": "key"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.AccessToken
}

func TestLogin_RejectsWrongKey(t *testing.T) {
	f := newFixture(t)
	f.token = ""
	w := f.do(t, http.MethodPost, "/v1/auth/login", gin.H{"agent_key": "guess"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/v1/state", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls", gin.H{"peer_id": "bob", "call_kind": "video"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var v agent.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, calls.PhaseRinging, v.Call.Phase)
	assert.Equal(t, "bob", v.Call.PeerID)

	w = f.do(t, http.MethodPost, "/v1/calls", gin.H{"peer_id": "carol"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Eventually(t, func() bool { return f.bob.State().Call.Phase == calls.PhaseRinging }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.bob.Accept(context.Background()))
	require.Eventually(t, func() bool { return f.alice.State().Call.Phase == calls.PhaseConnected }, 2*time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodPost, "/v1/calls/toggle/mute", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)

	w = f.do(t, http.MethodPost, "/v1/calls/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/v1/history?status=completed", nil)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"duration_seconds":0`)
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodGet, "/v1/history/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum history.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.CompletedCalls)
	assert.Equal(t, 1, sum.VideoCalls)
}

func TestIntentErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/calls", gin.H{"peer_id": "bob", "call_kind": "hologram"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls", gin.H{"peer_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/toggle/mute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls/toggle/hold", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/history/summary?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Reject and end are harmless when idle.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/calls/reject", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/calls/end", nil).Code)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPatch, "/v1/preferences", gin.H{"do_not_disturb": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"do_not_disturb":true,"prefer_decentralized":false}`, w.Body.String())
	assert.True(t, f.alice.State().DoNotDisturb)
}

func TestGroupCallEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/groups/g1/call", gin.H{"video": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/v1/groups/g1/membership", nil).Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/v1/groups/g2/membership", nil).Code)

	w = f.do(t, http.MethodPost, "/v1/groups/g1/call", gin.H{"video": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s groupcall.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "grp_g1", s.ChannelName)

	w = f.do(t, http.MethodPost, "/v1/groups/g2/call", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/calls", gin.H{"peer_id": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code, "1:1 calls are refused during a group call")

	w = f.do(t, http.MethodGet, "/v1/groups/calls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), s.CallID)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/groups/g1/call", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/v1/groups/g1/call", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/groups/g1/notice", nil).Code)
}

func TestStreamPushesViews(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	w := f.do(t, http.MethodPost, "/v1/auth/stream-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?access_token=" + tok.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first agent.View
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, calls.PhaseIdle, first.Call.Phase)

	require.NoError(t, f.alice.SetDoNotDisturb(context.Background(), true))
	var next agent.View
	require.NoError(t, conn.ReadJSON(&next))
	assert.True(t, next.DoNotDisturb)

	// The access token is not accepted on the stream endpoint.
	_, resp, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws?access_token="+f.token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
