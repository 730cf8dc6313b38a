package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidRoomToken = errors.New("media: invalid room token")

// RoomClaims grants one peer access to one centralized channel.
type RoomClaims struct {
	Channel string `json:"channel"`
	Video   bool   `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs short-lived HS256 room tokens for the centralized provider.
type TokenIssuer struct {
	appID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(appID, secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenIssuer{appID: appID, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) Issue(peerID, channel string, video bool) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("media: room token secret is empty")
	}
	if peerID == "" || channel == "" {
		return "", errors.New("media: room token needs peer and channel")
	}

	now := i.now().UTC()
	claims := RoomClaims{
		Channel: channel,
		Video:   video,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   peerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("media: sign room token: %w", err)
	}
	return s, nil
}

// Verify parses a room token. Media endpoints and tests use it; the agent only issues.
func (i *TokenIssuer) Verify(token string) (RoomClaims, error) {
	var claims RoomClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.appID != "" {
		opts = append(opts, jwt.WithIssuer(i.appID))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return RoomClaims{}, ErrInvalidRoomToken
	}
	if claims.Channel == "" || claims.Subject == "" {
		return RoomClaims{}, ErrInvalidRoomToken
	}
	return claims, nil
}
