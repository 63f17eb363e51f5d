package services

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Natchlou/le-q/models"
)

func TestGenerateCode(t *testing.T) {
	code := generateCode()
	require.Len(t, code, codeLength)
	for _, r := range code {
		require.Contains(t, codeChars, string(r))
	}
}

func TestStore_PutRoom(t *testing.T) {
	store := NewStore()
	now := time.Now()

	first := newRoomState(models.Room{ID: uuid.New(), Code: "AAAAAA"}, now)
	require.True(t, store.putRoom(first))

	t.Run("should reject a second room with the same code", func(t *testing.T) {
		dup := newRoomState(models.Room{ID: uuid.New(), Code: "AAAAAA"}, now)
		require.False(t, store.putRoom(dup))
	})

	t.Run("should free the code once the room is dropped", func(t *testing.T) {
		store.dropRoom(first.room.ID, first.room.Code, nil, nil)
		next := newRoomState(models.Room{ID: uuid.New(), Code: "AAAAAA"}, now)
		require.True(t, store.putRoom(next))
	})
}

func TestStore_Directories(t *testing.T) {
	store := NewStore()
	rs := newRoomState(models.Room{ID: uuid.New(), Code: "BBBBBB"}, time.Now())
	require.True(t, store.putRoom(rs))

	playerID := uuid.New()
	answerID := uuid.New()
	store.indexPlayer(playerID, rs.room.ID)
	store.indexAnswer(answerID, rs.room.ID)

	byPlayer, ok := store.roomByPlayer(playerID)
	require.True(t, ok)
	require.Same(t, rs, byPlayer)

	byAnswer, ok := store.roomByAnswer(answerID)
	require.True(t, ok)
	require.Same(t, rs, byAnswer)

	t.Run("should resolve codes case-insensitively", func(t *testing.T) {
		byCode, ok := store.roomByCode(strings.ToLower(rs.room.Code))
		require.True(t, ok)
		require.Same(t, rs, byCode)
	})

	t.Run("should forget every entry when the room is dropped", func(t *testing.T) {
		store.dropRoom(rs.room.ID, rs.room.Code, []uuid.UUID{playerID}, []uuid.UUID{answerID})

		_, ok := store.room(rs.room.ID)
		require.False(t, ok)
		_, ok = store.roomByCode(rs.room.Code)
		require.False(t, ok)
		_, ok = store.roomByPlayer(playerID)
		require.False(t, ok)
		_, ok = store.roomByAnswer(answerID)
		require.False(t, ok)

		rooms, players := store.Counts()
		require.Zero(t, rooms)
		require.Zero(t, players)
	})
}

func TestStore_IdleRooms(t *testing.T) {
	store := NewStore()
	now := time.Now()

	stale := newRoomState(models.Room{ID: uuid.New(), Code: "CCCCCC"}, now.Add(-2*time.Hour))
	fresh := newRoomState(models.Room{ID: uuid.New(), Code: "DDDDDD"}, now)
	busy := newRoomState(models.Room{ID: uuid.New(), Code: "EEEEEE"}, now.Add(-2*time.Hour))
	busy.idleSince = time.Time{} // has subscribers
	require.True(t, store.putRoom(stale))
	require.True(t, store.putRoom(fresh))
	require.True(t, store.putRoom(busy))

	idle := store.idleRooms(now.Add(-time.Hour))
	require.Len(t, idle, 1)
	require.Same(t, stale, idle[0])
}
