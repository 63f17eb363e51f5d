package models

import (
	"time"

	"github.com/google/uuid"
)

type Player struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	Pseudo      string    `json:"pseudo"`
	Score       int       `json:"score"`
	IsConnected bool      `json:"is_connected"`
	JoinedAt    time.Time `json:"joined_at"`
}
