package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-calls/internal/agent"
	"chat-calls/internal/calls"
	"chat-calls/internal/directory"
	"chat-calls/internal/groupcall"
	"chat-calls/internal/history"
	"chat-calls/internal/media"
	"chat-calls/pkg/logger"
)

var statusByErr = []struct {
	err    error
	status int
}{
	{calls.ErrBusy, http.StatusConflict},
	{calls.ErrInvalidState, http.StatusConflict},
	{groupcall.ErrBusy, http.StatusConflict},
	{groupcall.ErrNotJoined, http.StatusConflict},
	{agent.ErrNotInCall, http.StatusConflict},

	{calls.ErrInvalidPeer, http.StatusBadRequest},
	{calls.ErrInvalidKind, http.StatusBadRequest},
	{groupcall.ErrInvalidGroup, http.StatusBadRequest},
	{media.ErrUnknownToggle, http.StatusBadRequest},
	{history.ErrInvalidEntry, http.StatusBadRequest},
	{history.ErrInvalidRange, http.StatusBadRequest},
	{directory.ErrInvalidMember, http.StatusBadRequest},

	{calls.ErrProviderNotConfigured, http.StatusUnprocessableEntity},
	{groupcall.ErrNoProvider, http.StatusUnprocessableEntity},
	{groupcall.ErrNotMember, http.StatusForbidden},
	{groupcall.ErrJoinFailed, http.StatusBadGateway},
	{media.ErrNotJoined, http.StatusConflict},

	{agent.ErrNotRunning, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// abort maps domain errors to HTTP responses. Unknown errors are logged and
// reported as 500 without detail.
func abort(c *gin.Context, err error) {
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			c.AbortWithStatusJSON(m.status, gin.H{"error": err.Error()})
			return
		}
	}
	_ = c.Error(err)
	logger.FromGin(c).Error("request failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
