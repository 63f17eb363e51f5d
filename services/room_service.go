package services

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/models"
)

// Join codes skip ambiguous characters (0/O, 1/I/L) so they survive being
// read out loud.
const (
	codeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength = 6

	defaultCodeAttempts = 20
)

// RoomService is the command processor: every room mutation goes through
// it, runs inside the target room's critical section and leaves as a
// domain event before the lock is released.
type RoomService struct {
	store        *Store
	tokens       *TokenIssuer
	mirror       *RoomMirror
	archive      *ArchiveService
	codeAttempts int
	logger       *zap.Logger
}

func NewRoomService(store *Store, tokens *TokenIssuer, mirror *RoomMirror, archive *ArchiveService, codeAttempts int, logger *zap.Logger) *RoomService {
	if codeAttempts <= 0 {
		codeAttempts = defaultCodeAttempts
	}
	return &RoomService{
		store:        store,
		tokens:       tokens,
		mirror:       mirror,
		archive:      archive,
		codeAttempts: codeAttempts,
		logger:       logger,
	}
}

func generateCode() string {
	buf := make([]byte, codeLength)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeChars[int(b)%len(codeChars)]
	}
	return string(buf)
}

// mirrorAfter builds the mirror payload inside the critical section and
// returns the write to run after unlocking, so no Redis I/O ever happens
// under a room lock. No-op when mirroring is off.
func (s *RoomService) mirrorAfter(rs *roomState) func() {
	if !s.mirror.enabled() {
		return func() {}
	}
	snap := rs.snapshotLocked(uuid.Nil)
	return func() { s.mirror.Store(snap) }
}

// CreateRoom allocates a room with a fresh join code and mints the host
// token returned exactly once here.
func (s *RoomService) CreateRoom(name string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Room{}, fmt.Errorf("%w: name must not be empty", models.ErrInvalidArgument)
	}

	id := uuid.New()
	token, err := s.tokens.Mint(id)
	if err != nil {
		return models.Room{}, err
	}
	now := time.Now().UTC()
	room := models.Room{
		ID:        id,
		Name:      name,
		HostToken: token,
		IsActive:  true,
		CreatedAt: now,
	}

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		room.Code = generateCode()
		rs := newRoomState(room, now)
		// Not published yet, so the creation event needs no lock and is
		// guaranteed to be seq 1.
		rs.emit(models.EventRoomCreated, room)
		snap := rs.snapshotLocked(uuid.Nil)
		if !s.store.putRoom(rs) {
			continue
		}
		s.mirror.Store(snap)
		s.logger.Info("room created",
			zap.String("room_id", room.ID.String()),
			zap.String("code", room.Code))
		return room, nil
	}
	return models.Room{}, models.ErrCodesExhausted
}

// JoinRoom adds a player to a live room and returns the room view they
// start from. Players are identified by id, never by pseudo: two players
// may share a display name. Joining counts as coming online.
func (s *RoomService) JoinRoom(code, pseudo string) (models.Player, models.RoomSnapshot, error) {
	pseudo = strings.TrimSpace(pseudo)
	if pseudo == "" {
		return models.Player{}, models.RoomSnapshot{}, fmt.Errorf("%w: pseudo must not be empty", models.ErrInvalidArgument)
	}
	rs, ok := s.store.roomByCode(code)
	if !ok {
		return models.Player{}, models.RoomSnapshot{}, models.ErrRoomNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Player{}, models.RoomSnapshot{}, models.ErrRoomNotFound
	}
	player := &models.Player{
		ID:          uuid.New(),
		RoomID:      rs.room.ID,
		Pseudo:      pseudo,
		IsConnected: true,
		JoinedAt:    time.Now().UTC(),
	}
	rs.players[player.ID] = player
	s.store.indexPlayer(player.ID, rs.room.ID)
	rs.emit(models.EventPlayerConnection, *player)
	out := *player
	snap := rs.snapshotLocked(player.ID)
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	flush()
	return out, snap, nil
}

// SendQuestion activates a new question: the prior one is deactivated,
// every answer in the room is discarded and the new question becomes the
// only submittable one, all in a single atomic step.
func (s *RoomService) SendQuestion(hostRoom, roomID uuid.UUID, text, correctAnswer string) (models.Question, error) {
	if roomID != hostRoom {
		return models.Question{}, models.ErrNotRoomHost
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Question{}, fmt.Errorf("%w: text must not be empty", models.ErrInvalidArgument)
	}
	correctAnswer = strings.TrimSpace(correctAnswer)
	if correctAnswer == "" {
		return models.Question{}, fmt.Errorf("%w: correct answer must not be empty", models.ErrInvalidArgument)
	}
	rs, ok := s.store.room(roomID)
	if !ok {
		return models.Question{}, models.ErrRoomNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Question{}, models.ErrRoomNotFound
	}
	if rs.activeQuestion != uuid.Nil {
		if old := rs.questions[rs.activeQuestion]; old != nil {
			old.IsActive = false
			rs.emit(models.EventQuestionDeactivated, *old)
		}
	}
	var dropped []uuid.UUID
	if len(rs.answers) > 0 {
		dropped = lo.Keys(rs.answers)
		rs.answers = make(map[uuid.UUID]*models.Answer)
		rs.answered = make(map[playerQuestion]uuid.UUID)
	}
	q := &models.Question{
		ID:            uuid.New(),
		RoomID:        rs.room.ID,
		Text:          text,
		CorrectAnswer: correctAnswer,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	rs.questions[q.ID] = q
	rs.activeQuestion = q.ID
	rs.questionsAsked++
	rs.emit(models.EventQuestionActivated, *q)
	out := *q
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	s.store.dropAnswers(dropped)
	flush()
	return out, nil
}

// SubmitAnswer records a player's answer to the active question. One
// answer per player per question; a superseded question rejects rather
// than silently recording against stale state.
func (s *RoomService) SubmitAnswer(playerID, questionID uuid.UUID, text string, responseTimeMs int64) (models.Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Answer{}, fmt.Errorf("%w: text must not be empty", models.ErrInvalidArgument)
	}
	if responseTimeMs < 0 {
		return models.Answer{}, fmt.Errorf("%w: response_time_ms must not be negative", models.ErrInvalidArgument)
	}
	rs, ok := s.store.roomByPlayer(playerID)
	if !ok {
		return models.Answer{}, models.ErrPlayerNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Answer{}, models.ErrRoomNotFound
	}
	if rs.players[playerID] == nil {
		rs.mu.Unlock()
		return models.Answer{}, models.ErrPlayerNotFound
	}
	q := rs.questions[questionID]
	if q == nil {
		rs.mu.Unlock()
		return models.Answer{}, models.ErrQuestionNotFound
	}
	if !q.IsActive || rs.activeQuestion != q.ID {
		rs.mu.Unlock()
		return models.Answer{}, models.ErrQuestionInactive
	}
	key := playerQuestion{player: playerID, question: questionID}
	if _, dup := rs.answered[key]; dup {
		rs.mu.Unlock()
		return models.Answer{}, models.ErrDuplicateAnswer
	}
	a := &models.Answer{
		ID:             uuid.New(),
		RoomID:         rs.room.ID,
		PlayerID:       playerID,
		QuestionID:     questionID,
		Text:           text,
		ResponseTimeMs: responseTimeMs,
		SubmittedAt:    time.Now().UTC(),
	}
	rs.answers[a.ID] = a
	rs.answered[key] = a.ID
	s.store.indexAnswer(a.ID, rs.room.ID)
	rs.emit(models.EventAnswerSubmitted, *a)
	out := *a
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	flush()
	return out, nil
}

// MarkCorrect is the host's grading decision: the answer is flagged and
// the player earns PointsPerCorrect. Replaying the decision changes
// nothing and emits nothing.
func (s *RoomService) MarkCorrect(hostRoom, answerID uuid.UUID) (models.Answer, models.Player, error) {
	rs, ok := s.store.roomByAnswer(answerID)
	if !ok {
		return models.Answer{}, models.Player{}, models.ErrAnswerNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Answer{}, models.Player{}, models.ErrRoomNotFound
	}
	if rs.room.ID != hostRoom {
		rs.mu.Unlock()
		return models.Answer{}, models.Player{}, models.ErrNotRoomHost
	}
	a := rs.answers[answerID]
	if a == nil {
		rs.mu.Unlock()
		return models.Answer{}, models.Player{}, models.ErrAnswerNotFound
	}
	if a.IsCorrect {
		out, player := *a, *rs.players[a.PlayerID]
		rs.mu.Unlock()
		return out, player, nil
	}
	a.IsCorrect = true
	p := rs.players[a.PlayerID]
	applied, next := applyDelta(p.Score, PointsPerCorrect)
	p.Score = next
	rs.correctCount[p.ID]++
	rs.ledger.record(p.ID, applied)
	rs.emit(models.EventAnswerGraded, models.AnswerGradedPayload{Answer: *a, Player: *p})
	out, player := *a, *p
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	flush()
	return out, player, nil
}

// AdjustScore applies a manual delta to a player's score, clamped at
// zero. The emitted event carries both the requested and applied delta.
func (s *RoomService) AdjustScore(hostRoom, playerID uuid.UUID, delta int) (models.Player, error) {
	rs, ok := s.store.roomByPlayer(playerID)
	if !ok {
		return models.Player{}, models.ErrPlayerNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Player{}, models.ErrRoomNotFound
	}
	if rs.room.ID != hostRoom {
		rs.mu.Unlock()
		return models.Player{}, models.ErrNotRoomHost
	}
	p := rs.players[playerID]
	if p == nil {
		rs.mu.Unlock()
		return models.Player{}, models.ErrPlayerNotFound
	}
	applied, next := applyDelta(p.Score, delta)
	p.Score = next
	rs.ledger.record(p.ID, applied)
	rs.emit(models.EventScoreChanged, models.ScoreChangedPayload{Player: *p, Delta: delta, Applied: applied})
	out := *p
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	flush()
	return out, nil
}

// SetConnectionStatus flips a player's presence flag. Idempotent: setting
// the current value emits nothing.
func (s *RoomService) SetConnectionStatus(playerID uuid.UUID, connected bool) (models.Player, error) {
	rs, ok := s.store.roomByPlayer(playerID)
	if !ok {
		return models.Player{}, models.ErrPlayerNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Player{}, models.ErrRoomNotFound
	}
	p := rs.players[playerID]
	if p == nil {
		rs.mu.Unlock()
		return models.Player{}, models.ErrPlayerNotFound
	}
	if p.IsConnected == connected {
		out := *p
		rs.mu.Unlock()
		return out, nil
	}
	p.IsConnected = connected
	rs.emit(models.EventPlayerConnection, *p)
	out := *p
	flush := s.mirrorAfter(rs)
	rs.mu.Unlock()

	flush()
	return out, nil
}

// markConnected is the gateway-side wrapper: presence flips driven by
// session lifecycle tolerate the room being gone already.
func (s *RoomService) markConnected(playerID uuid.UUID, connected bool) {
	if _, err := s.SetConnectionStatus(playerID, connected); err != nil {
		if models.KindOf(err) != models.KindNotFound {
			s.logger.Warn("connection status update failed",
				zap.String("player_id", playerID.String()), zap.Error(err))
		}
	}
}

// EndGame closes a room for good: final event, directories cleared,
// sessions expired, mirror dropped, outcome archived. The code frees up
// for reuse immediately.
func (s *RoomService) EndGame(hostRoom, roomID uuid.UUID) (models.Room, error) {
	if roomID != hostRoom {
		return models.Room{}, models.ErrNotRoomHost
	}
	rs, ok := s.store.room(roomID)
	if !ok {
		return models.Room{}, models.ErrRoomNotFound
	}
	return s.closeRoom(rs, "host ended")
}

func (s *RoomService) closeRoom(rs *roomState, reason string) (models.Room, error) {
	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.Room{}, models.ErrRoomNotFound
	}
	now := time.Now().UTC()
	rs.ended = true
	rs.room.IsActive = false
	rs.room.EndedAt = &now
	if rs.activeQuestion != uuid.Nil {
		if q := rs.questions[rs.activeQuestion]; q != nil {
			q.IsActive = false
		}
		rs.activeQuestion = uuid.Nil
	}
	rs.emit(models.EventRoomEnded, rs.room)

	room := rs.room
	playerIDs := lo.Keys(rs.players)
	answerIDs := lo.Keys(rs.answers)
	subs := lo.Values(rs.subscribers)
	outcome := GameOutcome{
		Room:           rs.room,
		QuestionsAsked: rs.questionsAsked,
		Standings: standings(lo.Map(lo.Values(rs.players), func(p *models.Player, _ int) models.Player {
			return *p
		})),
		// The room is unreachable after dropRoom, so the map is frozen.
		CorrectCounts: rs.correctCount,
	}
	rs.mu.Unlock()

	s.store.dropRoom(room.ID, room.Code, playerIDs, answerIDs)
	for _, sess := range subs {
		sess.hub.Expire(sess.ID)
	}
	s.mirror.Delete(room.Code)
	s.archive.RecordGame(outcome)

	s.logger.Info("room ended",
		zap.String("room_id", room.ID.String()),
		zap.String("code", room.Code),
		zap.String("reason", reason),
		zap.Int("players", len(playerIDs)))
	return room, nil
}

// EvictIdleRooms closes every room whose last subscriber left more than
// maxIdle ago. Driven by the gateway's ticker.
func (s *RoomService) EvictIdleRooms(maxIdle time.Duration) int {
	idle := s.store.idleRooms(time.Now().Add(-maxIdle))
	evicted := 0
	for _, rs := range idle {
		if _, err := s.closeRoom(rs, "idle eviction"); err == nil {
			evicted++
		}
	}
	return evicted
}

// Snapshot is the read-side of the engine: the full room view by join
// code. playerID, when not Nil, selects the own-answer section.
func (s *RoomService) Snapshot(code string, playerID uuid.UUID) (models.RoomSnapshot, error) {
	rs, ok := s.store.roomByCode(code)
	if !ok {
		return models.RoomSnapshot{}, models.ErrRoomNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ended {
		return models.RoomSnapshot{}, models.ErrRoomNotFound
	}
	return rs.snapshotLocked(playerID), nil
}

// RoomIDByCode resolves a join code; host routes use it to pin the target
// room against the token's claim.
func (s *RoomService) RoomIDByCode(code string) (uuid.UUID, error) {
	rs, ok := s.store.roomByCode(code)
	if !ok {
		return uuid.Nil, models.ErrRoomNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ended {
		return uuid.Nil, models.ErrRoomNotFound
	}
	return rs.room.ID, nil
}

// PlayerRoom checks that a player belongs to the live room behind code
// and returns the room id; the gateway calls it before attaching.
func (s *RoomService) PlayerRoom(code string, playerID uuid.UUID) (uuid.UUID, error) {
	rs, ok := s.store.roomByPlayer(playerID)
	if !ok {
		return uuid.Nil, models.ErrPlayerNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ended {
		return uuid.Nil, models.ErrRoomNotFound
	}
	if rs.room.Code != models.NormalizeCode(code) {
		return uuid.Nil, models.ErrPlayerNotFound
	}
	return rs.room.ID, nil
}

// connectSession flips the player online, delivers the snapshot and
// registers the session on the bus in one critical section, so the
// snapshot seq and the first live event line up exactly. Host sessions
// carry no player, so only the subscription part applies to them.
func (s *RoomService) connectSession(sess *Session, buffer int) error {
	rs, ok := s.store.room(sess.RoomID)
	if !ok {
		return models.ErrRoomNotFound
	}

	rs.mu.Lock()
	if rs.ended {
		rs.mu.Unlock()
		return models.ErrRoomNotFound
	}
	var p *models.Player
	if sess.PlayerID != uuid.Nil {
		if p = rs.players[sess.PlayerID]; p == nil {
			rs.mu.Unlock()
			return models.ErrPlayerNotFound
		}
	}
	delete(rs.subscribers, sess.ID)
	sess.resetPipes(buffer)
	if p != nil && !p.IsConnected {
		p.IsConnected = true
		rs.emit(models.EventPlayerConnection, *p)
	}
	err := rs.subscribe(sess)
	flush := func() {}
	if err == nil {
		flush = s.mirrorAfter(rs)
	}
	rs.mu.Unlock()

	flush()
	return err
}

// dropSubscription detaches a session from its room's bus, if the room
// is still around.
func (s *RoomService) dropSubscription(sess *Session) {
	rs, ok := s.store.room(sess.RoomID)
	if !ok {
		return
	}
	rs.mu.Lock()
	rs.unsubscribe(sess.ID)
	rs.mu.Unlock()
}

// pushSnapshot re-sends the full state on an already attached session,
// sequenced against the live event stream.
func (s *RoomService) pushSnapshot(sess *Session) error {
	rs, ok := s.store.room(sess.RoomID)
	if !ok {
		return models.ErrRoomNotFound
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ended {
		return models.ErrRoomNotFound
	}
	return sess.enqueue(models.Frame{Type: models.FrameSnapshot, Payload: rs.sessionSnapshotLocked(sess)})
}

// EngineStats is reported by the stats endpoint.
type EngineStats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

func (s *RoomService) Stats() EngineStats {
	rooms, players := s.store.Counts()
	return EngineStats{Rooms: rooms, Players: players}
}
