package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chat-calls/internal/agent"
	"chat-calls/internal/auth"
	"chat-calls/internal/calls"
	"chat-calls/internal/directory"
	"chat-calls/internal/history"
	"chat-calls/internal/media"
	"chat-calls/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the agent, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Agent     *agent.Agent
	History   *history.Recorder
	Directory directory.Directory
}

// --- Auth ---

type loginRequest struct {
	AgentKey string `json:"agent_key"`
}

// Login exchanges the agent key for an access token for the local peer.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.Auth.CheckAgentKey(req.AgentKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent key"})
		return
	}
	h.issue(c, auth.TokenTypeAccess)
}

// StreamToken issues a short-lived token for the websocket push.
func (h Handlers) StreamToken(c *gin.Context) {
	h.issue(c, auth.TokenTypeStream)
}

func (h Handlers) issue(c *gin.Context, tt auth.TokenType) {
	tok, exp, err := h.Auth.Issue(time.Now(), h.Agent.PeerID(), tt)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "token_type": string(tt), "expires_at": exp})
}

// --- 1:1 calls ---

func (h Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.Agent.State())
}

type startCallRequest struct {
	PeerID string     `json:"peer_id"`
	Kind   calls.Kind `json:"call_kind"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Kind == "" {
		req.Kind = calls.KindAudio
	}
	if err := h.Agent.Start(c.Request.Context(), strings.TrimSpace(req.PeerID), req.Kind); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.Agent.State())
}

func (h Handlers) Accept(c *gin.Context) { h.intent(c, h.Agent.Accept) }
func (h Handlers) Reject(c *gin.Context) { h.intent(c, h.Agent.Reject) }
func (h Handlers) Cancel(c *gin.Context) { h.intent(c, h.Agent.Cancel) }
func (h Handlers) End(c *gin.Context)    { h.intent(c, h.Agent.End) }

func (h Handlers) intent(c *gin.Context, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Agent.State())
}

// Toggle flips mute, video or screen share on the active call.
func (h Handlers) Toggle(c *gin.Context) {
	t := media.Toggle(c.Param("control"))
	on, err := h.Agent.Toggle(c.Request.Context(), t)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"control": string(t), "enabled": on})
}

// --- Preferences ---

type preferencesRequest struct {
	DoNotDisturb        *bool `json:"do_not_disturb"`
	PreferDecentralized *bool `json:"prefer_decentralized"`
}

func (h Handlers) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	if req.DoNotDisturb != nil {
		if err := h.Agent.SetDoNotDisturb(ctx, *req.DoNotDisturb); err != nil {
			abort(c, err)
			return
		}
	}
	if req.PreferDecentralized != nil {
		if err := h.Agent.SetPreferDecentralized(ctx, *req.PreferDecentralized); err != nil {
			abort(c, err)
			return
		}
	}
	v := h.Agent.State()
	c.JSON(http.StatusOK, gin.H{"do_not_disturb": v.DoNotDisturb, "prefer_decentralized": v.PreferDecentralized})
}

// --- History ---

func (h Handlers) ListHistory(c *gin.Context) {
	q := history.Query{
		PeerID: strings.TrimSpace(c.Query("peer_id")),
		Status: history.Status(c.Query("status")),
	}
	var ok bool
	if q.Since, ok = parseTime(c, "since"); !ok {
		return
	}
	if q.Until, ok = parseTime(c, "until"); !ok {
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}

	entries, err := h.History.List(c.Request.Context(), q)
	if err != nil {
		abort(c, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// HistorySummary defaults to the last 30 days.
func (h Handlers) HistorySummary(c *gin.Context) {
	now := time.Now().UTC()
	rng := history.TimeRange{From: now.AddDate(0, 0, -30), To: now}
	from, ok := parseTime(c, "from")
	if !ok {
		return
	}
	to, ok := parseTime(c, "to")
	if !ok {
		return
	}
	if !from.IsZero() {
		rng.From = from
	}
	if !to.IsZero() {
		rng.To = to
	}

	sum, err := h.History.Summary(c.Request.Context(), rng, strings.TrimSpace(c.Query("peer_id")))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// parseTime reads an optional RFC 3339 query parameter. It writes a 400 and
// returns false when the value is malformed.
func parseTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}

// --- Group calls ---

type groupCallRequest struct {
	Video bool `json:"video"`
}

func (h Handlers) StartOrJoinGroup(c *gin.Context) {
	var req groupCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	s, err := h.Agent.StartOrJoinGroup(c.Request.Context(), c.Param("group_id"), req.Video)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) LeaveGroup(c *gin.Context) {
	if err := h.Agent.LeaveGroup(c.Request.Context(), c.Param("group_id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) DismissGroupNotice(c *gin.Context) {
	ok, err := h.Agent.DismissGroupNotice(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		abort(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no notice for group"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GroupSessions(c *gin.Context) {
	sessions, err := h.Agent.GroupSessions(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	v := h.Agent.State()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "joined": v.Group, "notices": v.GroupNotices})
}

// JoinGroup records the local peer as a member of a group.
func (h Handlers) JoinGroup(c *gin.Context) {
	if h.Directory == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "directory not configured"})
		return
	}
	if err := h.Directory.Add(c.Request.Context(), c.Param("group_id"), h.Agent.PeerID()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
