package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one player's submission for one question. ResponseTimeMs is
// measured client side and recorded as reported.
type Answer struct {
	ID             uuid.UUID `json:"id"`
	RoomID         uuid.UUID `json:"room_id"`
	PlayerID       uuid.UUID `json:"player_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	Text           string    `json:"text"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
