package models

import (
	"time"

	"github.com/google/uuid"
)

// GameRecord is the archived outcome of one ended room. Written once,
// never read back by the engine.
type GameRecord struct {
	ID             uint             `json:"id" gorm:"primaryKey"`
	RoomID         uuid.UUID        `json:"room_id" gorm:"type:uuid;uniqueIndex;not null"`
	Code           string           `json:"code" gorm:"not null"`
	Name           string           `json:"name" gorm:"not null"`
	QuestionsAsked int              `json:"questions_asked"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at"`
	CreatedAt      time.Time        `json:"created_at"`
	Standings      []StandingRecord `json:"standings" gorm:"foreignKey:GameRecordID"`
}

// StandingRecord is one player's final line in an archived game.
type StandingRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	GameRecordID   uint      `json:"game_record_id" gorm:"index;not null"`
	PlayerID       uuid.UUID `json:"player_id" gorm:"type:uuid;not null"`
	Pseudo         string    `json:"pseudo" gorm:"not null"`
	Rank           int       `json:"rank"`
	Score          int       `json:"score"`
	CorrectAnswers int       `json:"correct_answers"`
}
