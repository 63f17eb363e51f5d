package models

import (
	"time"

	"github.com/google/uuid"
)

// Question is a free-text question pushed by the host. CorrectAnswer is a
// reference for the host's grading decision and never leaves the server.
type Question struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	Text          string    `json:"text"`
	CorrectAnswer string    `json:"-"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
