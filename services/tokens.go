package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Natchlou/le-q/models"
)

// hostClaims bind a host token to exactly one room.
type hostClaims struct {
	RoomID string `json:"room_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the host tokens handed out once at room
// creation. Possession of a valid token is what makes a caller the host.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *TokenIssuer) Mint(roomID uuid.UUID) (string, error) {
	now := time.Now()
	claims := hostClaims{
		RoomID: roomID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "host",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the room a token grants host control over. Any parse,
// signature or expiry problem comes back as ErrNotRoomHost; callers never
// learn which check failed.
func (t *TokenIssuer) Verify(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &hostClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, models.ErrNotRoomHost
	}
	claims, ok := parsed.Claims.(*hostClaims)
	if !ok {
		return uuid.Nil, models.ErrNotRoomHost
	}
	roomID, err := uuid.Parse(claims.RoomID)
	if err != nil {
		return uuid.Nil, models.ErrNotRoomHost
	}
	return roomID, nil
}
