package main

import (
	"database/sql"
	"net/http"
	"time"

	"chat-calls/internal/agent"
	"chat-calls/internal/auth"
	"chat-calls/internal/httpapi"
	"chat-calls/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Keep this file free of business logic. Handlers delegate to internal modules.

func registerPublicRoutes(r *gin.Engine, db *sql.DB, a *agent.Agent) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Ready once the agent has caught up on signaling and the database answers.
	r.GET("/readyz", func(c *gin.Context) {
		select {
		case <-a.Ready():
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

func registerAuthRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.POST("/v1/auth/login", h.Login)
}

func registerProtectedRoutes(r *gin.Engine, h httpapi.Handlers, m *auth.Manager, peerID string) {
	// Browsers cannot set headers on websocket upgrades, so the stream takes
	// a short-lived token from the query string instead.
	r.GET("/v1/ws", auth.RequireStreamToken(m, peerID), h.Stream)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m, peerID))
	{
		v1.POST("/auth/stream-token", h.StreamToken)
		v1.GET("/state", h.State)
		v1.PATCH("/preferences", h.UpdatePreferences)
	}

	calls := v1.Group("/calls")
	{
		calls.POST("", h.StartCall)
		calls.POST("/accept", h.Accept)
		calls.POST("/reject", h.Reject)
		calls.POST("/cancel", h.Cancel)
		calls.POST("/end", h.End)
		calls.POST("/toggle/:control", h.Toggle)
	}

	hist := v1.Group("/history")
	{
		hist.GET("", h.ListHistory)
		hist.GET("/summary", h.HistorySummary)
	}

	groups := v1.Group("/groups")
	{
		groups.GET("/calls", h.GroupSessions)
		groups.PUT("/:group_id/membership", h.JoinGroup)
		groups.POST("/:group_id/call", h.StartOrJoinGroup)
		groups.DELETE("/:group_id/call", h.LeaveGroup)
		groups.DELETE("/:group_id/notice", h.DismissGroupNotice)
	}
}
