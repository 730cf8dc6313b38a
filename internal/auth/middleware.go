package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "
const streamTokenParam = "access_token"

// RequireAccessToken verifies a bearer access token issued for peerID and
// injects the identity into the request context. A token for another peer
// is refused: one agent serves exactly one participant.
func RequireAccessToken(m *Manager, peerID string) gin.HandlerFunc {
	return require(m, peerID, TokenTypeAccess, func(c *gin.Context) string {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if !strings.HasPrefix(raw, bearerPrefix) {
			return ""
		}
		return strings.TrimPrefix(raw, bearerPrefix)
	})
}

// RequireStreamToken accepts a stream token from the access_token query
// parameter, for websocket upgrades.
func RequireStreamToken(m *Manager, peerID string) gin.HandlerFunc {
	return require(m, peerID, TokenTypeStream, func(c *gin.Context) string {
		return strings.TrimSpace(c.Query(streamTokenParam))
	})
}

func require(m *Manager, peerID string, tt TokenType, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := extract(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := m.Verify(tok, tt, time.Now())
		if err != nil || claims.PeerID != peerID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithPeer(c.Request.Context(), claims.PeerID))
		c.Set("peer_id", claims.PeerID)
		c.Next()
	}
}
