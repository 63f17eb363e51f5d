package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Natchlou/le-q/models"
)

// GameOutcome is captured inside a room's final critical section and
// archived after the room is gone from memory.
type GameOutcome struct {
	Room           models.Room
	QuestionsAsked int
	Standings      []models.Player
	CorrectCounts  map[uuid.UUID]int
}

// ArchiveService persists the final standings of ended rooms. It is
// write-only: the engine never reads archived games back.
type ArchiveService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchiveService accepts a nil db, which disables archiving.
func NewArchiveService(db *gorm.DB, logger *zap.Logger) *ArchiveService {
	return &ArchiveService{db: db, logger: logger}
}

func (s *ArchiveService) enabled() bool {
	return s != nil && s.db != nil
}

// RecordGame writes one ended room. Failures are logged rather than
// returned: the room is already gone from memory either way.
func (s *ArchiveService) RecordGame(out GameOutcome) {
	if !s.enabled() {
		return
	}

	endedAt := time.Now()
	if out.Room.EndedAt != nil {
		endedAt = *out.Room.EndedAt
	}

	rec := models.GameRecord{
		RoomID:         out.Room.ID,
		Code:           out.Room.Code,
		Name:           out.Room.Name,
		QuestionsAsked: out.QuestionsAsked,
		StartedAt:      out.Room.CreatedAt,
		EndedAt:        endedAt,
	}
	standings := lo.Map(out.Standings, func(p models.Player, i int) models.StandingRecord {
		return models.StandingRecord{
			PlayerID:       p.ID,
			Pseudo:         p.Pseudo,
			Rank:           i + 1,
			Score:          p.Score,
			CorrectAnswers: out.CorrectCounts[p.ID],
		}
	})

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(&rec).Error; err != nil {
		tx.Rollback()
		s.logger.Error("game archive failed",
			zap.String("room_id", out.Room.ID.String()), zap.Error(err))
		return
	}
	for i := range standings {
		standings[i].GameRecordID = rec.ID
		if err := tx.Create(&standings[i]).Error; err != nil {
			tx.Rollback()
			s.logger.Error("game archive failed",
				zap.String("room_id", out.Room.ID.String()), zap.Error(err))
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		s.logger.Error("game archive commit failed",
			zap.String("room_id", out.Room.ID.String()), zap.Error(err))
		return
	}

	s.logger.Info("game archived",
		zap.String("room_id", out.Room.ID.String()),
		zap.String("code", out.Room.Code),
		zap.Int("players", len(standings)))
}
