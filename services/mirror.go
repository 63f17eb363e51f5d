package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/models"
)

const mirrorKeyPrefix = "room:"

// RoomMirror keeps a best-effort JSON copy of each live room in Redis so
// operators and sibling processes can inspect rooms without reaching into
// the engine. The in-memory store stays authoritative: mirror failures
// are logged and never fail the command that triggered them.
type RoomMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRoomMirror accepts a nil client, which disables mirroring entirely.
func NewRoomMirror(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RoomMirror {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RoomMirror{client: client, ttl: ttl, logger: logger}
}

func (m *RoomMirror) enabled() bool {
	return m != nil && m.client != nil
}

// Store refreshes the mirror entry after a committed mutation. The TTL
// doubles as a safety net: a room the engine lost track of ages out.
func (m *RoomMirror) Store(snap models.RoomSnapshot) {
	if !m.enabled() {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		m.logger.Warn("room mirror marshal failed",
			zap.String("code", snap.Room.Code), zap.Error(err))
		return
	}
	if err := m.client.Set(context.Background(), mirrorKey(snap.Room.Code), data, m.ttl).Err(); err != nil {
		m.logger.Warn("room mirror write failed",
			zap.String("code", snap.Room.Code), zap.Error(err))
	}
}

// Delete drops the mirror entry once a room has ended.
func (m *RoomMirror) Delete(code string) {
	if !m.enabled() {
		return
	}
	if err := m.client.Del(context.Background(), mirrorKey(code)).Err(); err != nil {
		m.logger.Warn("room mirror delete failed",
			zap.String("code", code), zap.Error(err))
	}
}

func mirrorKey(code string) string {
	return mirrorKeyPrefix + models.NormalizeCode(code)
}
