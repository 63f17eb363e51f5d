package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Room is the aggregate root for one live quiz. The in-memory copy is
// authoritative; everything else (redis mirror, result archive) is derived.
type Room struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	HostToken string     `json:"-"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NormalizeCode canonicalizes a join code for lookup. Codes are stored
// uppercase and matched case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
