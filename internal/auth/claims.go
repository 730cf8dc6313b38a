package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
	// TokenTypeStream is a short-lived token for the websocket push, which
	// browsers can only pass in the query string.
	TokenTypeStream TokenType = "stream"
)

// Claims identify the local participant the UI acts for.
type Claims struct {
	jwt.RegisteredClaims

	PeerID    string    `json:"peer_id"`
	TokenType TokenType `json:"token_type"`
}
