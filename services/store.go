package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Natchlou/le-q/models"
)

// playerQuestion keys the one-answer-per-player-per-question index.
type playerQuestion struct {
	player   uuid.UUID
	question uuid.UUID
}

// roomState is one room's aggregate plus its event bus. Every field is
// guarded by mu: commands for the same room serialize on it, commands for
// different rooms run fully concurrently. Events are assigned their seq
// and handed to subscribers while mu is held, so delivery order always
// matches commit order.
type roomState struct {
	mu sync.Mutex

	room      models.Room
	players   map[uuid.UUID]*models.Player
	questions map[uuid.UUID]*models.Question
	answers   map[uuid.UUID]*models.Answer
	answered  map[playerQuestion]uuid.UUID

	activeQuestion uuid.UUID
	questionsAsked int
	correctCount   map[uuid.UUID]int
	ledger         scoreLedger

	seq         uint64
	subscribers map[uuid.UUID]*Session
	idleSince   time.Time
	ended       bool
}

func newRoomState(room models.Room, now time.Time) *roomState {
	return &roomState{
		room:         room,
		players:      make(map[uuid.UUID]*models.Player),
		questions:    make(map[uuid.UUID]*models.Question),
		answers:      make(map[uuid.UUID]*models.Answer),
		answered:     make(map[playerQuestion]uuid.UUID),
		correctCount: make(map[uuid.UUID]int),
		ledger:       make(scoreLedger),
		subscribers:  make(map[uuid.UUID]*Session),
		idleSince:    now,
	}
}

// Store owns every live room plus the directories that resolve commands
// addressed by code, player id or answer id to their room.
//
// Lock order: a roomState.mu may be held while taking Store.mu (joins and
// submissions index new entities inside their room's critical section),
// never the other way around.
type Store struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]*roomState
	byCode     map[string]uuid.UUID
	playerRoom map[uuid.UUID]uuid.UUID
	answerRoom map[uuid.UUID]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		rooms:      make(map[uuid.UUID]*roomState),
		byCode:     make(map[string]uuid.UUID),
		playerRoom: make(map[uuid.UUID]uuid.UUID),
		answerRoom: make(map[uuid.UUID]uuid.UUID),
	}
}

// putRoom registers a fresh room. It fails when the code is already held
// by a live room; codes free up as soon as their room is dropped.
func (s *Store) putRoom(rs *roomState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[rs.room.Code]; taken {
		return false
	}
	s.rooms[rs.room.ID] = rs
	s.byCode[rs.room.Code] = rs.room.ID
	return true
}

func (s *Store) room(id uuid.UUID) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rooms[id]
	return rs, ok
}

func (s *Store) roomByCode(code string) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[models.NormalizeCode(code)]
	if !ok {
		return nil, false
	}
	rs, ok := s.rooms[id]
	return rs, ok
}

func (s *Store) roomByPlayer(playerID uuid.UUID) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.playerRoom[playerID]
	if !ok {
		return nil, false
	}
	rs, ok := s.rooms[id]
	return rs, ok
}

func (s *Store) roomByAnswer(answerID uuid.UUID) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.answerRoom[answerID]
	if !ok {
		return nil, false
	}
	rs, ok := s.rooms[id]
	return rs, ok
}

func (s *Store) indexPlayer(playerID, roomID uuid.UUID) {
	s.mu.Lock()
	s.playerRoom[playerID] = roomID
	s.mu.Unlock()
}

func (s *Store) indexAnswer(answerID, roomID uuid.UUID) {
	s.mu.Lock()
	s.answerRoom[answerID] = roomID
	s.mu.Unlock()
}

func (s *Store) dropAnswers(ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	for _, id := range ids {
		delete(s.answerRoom, id)
	}
	s.mu.Unlock()
}

// dropRoom removes an ended room and everything the directories know
// about it. The caller collects the ids inside the room's critical
// section; once rs.ended is set no new entities can appear.
func (s *Store) dropRoom(roomID uuid.UUID, code string, playerIDs, answerIDs []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	if s.byCode[code] == roomID {
		delete(s.byCode, code)
	}
	for _, id := range playerIDs {
		delete(s.playerRoom, id)
	}
	for _, id := range answerIDs {
		delete(s.answerRoom, id)
	}
}

// idleRooms returns rooms whose last subscriber left before the cutoff.
// Room locks are taken one by one after the directory scan, never nested
// under Store.mu.
func (s *Store) idleRooms(cutoff time.Time) []*roomState {
	s.mu.RLock()
	all := make([]*roomState, 0, len(s.rooms))
	for _, rs := range s.rooms {
		all = append(all, rs)
	}
	s.mu.RUnlock()

	var idle []*roomState
	for _, rs := range all {
		rs.mu.Lock()
		if !rs.ended && !rs.idleSince.IsZero() && rs.idleSince.Before(cutoff) {
			idle = append(idle, rs)
		}
		rs.mu.Unlock()
	}
	return idle
}

// Counts reports live rooms and players for the stats endpoint.
func (s *Store) Counts() (rooms, players int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), len(s.playerRoom)
}
