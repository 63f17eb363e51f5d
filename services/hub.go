package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/models"
)

type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionActive       SessionState = "active"
	SessionDisconnected SessionState = "disconnected"
	SessionExpired      SessionState = "expired"
)

// SessionConn is the transport half of an attached client. The hub only
// ever needs to force it shut; outbound frames are pulled by the
// transport from Session.Out.
type SessionConn interface {
	Close() error
}

// Session is one client connection's identity across transport drops.
// A Disconnected session keeps its id for the reconnect grace window and
// resumes with a fresh snapshot; after the window it expires for good.
type Session struct {
	ID       uuid.UUID
	RoomID   uuid.UUID
	PlayerID uuid.UUID

	hub  *Hub
	conn SessionConn

	// pipeMu guards the outbound pipes. enqueue is called with the room
	// lock held, so pipeMu must never wrap a room lock acquisition.
	pipeMu sync.Mutex
	out    chan models.Frame
	done   chan struct{}
	closed bool

	// guarded by hub.mu
	state          SessionState
	lastSeen       time.Time
	disconnectedAt time.Time
}

// Out is the ordered outbound frame stream for the current connection.
// Transports must capture it once per connection: it is replaced on
// resume.
func (s *Session) Out() <-chan models.Frame {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	return s.out
}

// Done closes when the current connection should stop pumping.
func (s *Session) Done() <-chan struct{} {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	return s.done
}

func (s *Session) enqueue(f models.Frame) error {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.closed {
		return models.ErrSessionClosed
	}
	select {
	case s.out <- f:
		return nil
	default:
		return models.ErrSlowConsumer
	}
}

// Push lets the transport interleave its own frames (acks, command
// errors) with the event stream.
func (s *Session) Push(f models.Frame) error {
	return s.enqueue(f)
}

// deliveryFailed is spawned by the bus after it has already dropped the
// session from the room; it must not run under the room lock.
func (s *Session) deliveryFailed(err error) {
	s.hub.Degrade(s.ID, err.Error())
}

// closePipes stops the current transport. Idempotent.
func (s *Session) closePipes() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.done != nil {
		close(s.done)
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

// resetPipes installs fresh outbound pipes. The caller holds the room
// lock, so no enqueue can interleave while the channels are swapped; the
// previous transport, if any, was already shut via closePipes.
func (s *Session) resetPipes(buffer int) {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if !s.closed && s.done != nil {
		close(s.done)
	}
	s.out = make(chan models.Frame, buffer)
	s.done = make(chan struct{})
	s.closed = false
}

// HubOptions tune the session lifecycle; zero values fall back to the
// defaults below.
type HubOptions struct {
	HeartbeatTimeout time.Duration
	ReconnectGrace   time.Duration
	RoomIdleTimeout  time.Duration
	SendBuffer       int
}

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultReconnectGrace   = 2 * time.Minute
	defaultRoomIdleTimeout  = time.Hour
	defaultSendBuffer       = 256
)

// Hub is the session gateway: it owns every live Session, watches
// heartbeats, expires sessions whose grace window lapsed and triggers
// idle-room eviction. Room state itself lives in the store; the hub only
// manages connection lifecycles around it.
type Hub struct {
	svc    *RoomService
	logger *zap.Logger
	opts   HubOptions

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byPlayer map[uuid.UUID]uuid.UUID
}

func NewHub(svc *RoomService, opts HubOptions, logger *zap.Logger) *Hub {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = defaultReconnectGrace
	}
	if opts.RoomIdleTimeout <= 0 {
		opts.RoomIdleTimeout = defaultRoomIdleTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Hub{
		svc:      svc,
		logger:   logger,
		opts:     opts,
		sessions: make(map[uuid.UUID]*Session),
		byPlayer: make(map[uuid.UUID]uuid.UUID),
	}
}

// Attach binds a transport connection to a session for the given player.
// With resumeID it restores a Disconnected session inside its grace
// window; otherwise it starts a fresh session, displacing any previous
// connection the player still holds. The first frame on Session.Out is
// always a snapshot.
func (h *Hub) Attach(conn SessionConn, code string, playerID, resumeID uuid.UUID) (*Session, error) {
	roomID, err := h.svc.PlayerRoom(code, playerID)
	if err != nil {
		return nil, err
	}
	return h.attach(conn, roomID, playerID, resumeID)
}

// AttachHost binds the host console to the room stream. The caller has
// already verified the host token; its room claim must match the code.
// Host sessions carry no player identity: PlayerID stays Nil, they never
// appear on the roster and several may watch the same room at once.
func (h *Hub) AttachHost(conn SessionConn, code string, hostRoom, resumeID uuid.UUID) (*Session, error) {
	roomID, err := h.svc.RoomIDByCode(code)
	if err != nil {
		return nil, err
	}
	if roomID != hostRoom {
		return nil, models.ErrNotRoomHost
	}
	return h.attach(conn, roomID, uuid.Nil, resumeID)
}

func (h *Hub) attach(conn SessionConn, roomID, playerID, resumeID uuid.UUID) (*Session, error) {
	now := time.Now()
	var displaced *Session

	h.mu.Lock()
	sess := h.resumableLocked(resumeID, roomID, playerID, now)
	resumed := sess != nil
	if resumed {
		if sess.state != SessionDisconnected {
			// The old transport is still up; shut it before the swap so
			// the session carries on with the new connection only.
			sess.closePipes()
		}
		sess.conn = conn
		sess.state = SessionConnecting
		sess.lastSeen = now
		sess.disconnectedAt = time.Time{}
	} else {
		sess = &Session{
			ID:       uuid.New(),
			RoomID:   roomID,
			PlayerID: playerID,
			hub:      h,
			conn:     conn,
			state:    SessionConnecting,
			lastSeen: now,
		}
		h.sessions[sess.ID] = sess
	}
	// One live session per player: whatever other session the player
	// still holds is displaced, resumed or not. Host sessions are not
	// directory-tracked and coexist freely.
	if playerID != uuid.Nil {
		if oldID, ok := h.byPlayer[playerID]; ok && oldID != sess.ID {
			if old := h.sessions[oldID]; old != nil {
				h.expireLocked(old)
				displaced = old
			}
		}
		h.byPlayer[playerID] = sess.ID
	}
	h.mu.Unlock()

	if displaced != nil {
		// A second connection for the same player replaces the first. The
		// player stays online through the swap, so no offline flip here.
		h.svc.dropSubscription(displaced)
	}

	if err := h.svc.connectSession(sess, h.opts.SendBuffer); err != nil {
		h.mu.Lock()
		h.expireLocked(sess)
		h.mu.Unlock()
		return nil, err
	}

	// A rival attach may have expired this session while its subscription
	// was being set up; in that case the subscription is taken back out
	// and the attach reports the loss instead of handing over a session
	// the hub no longer tracks.
	h.mu.Lock()
	current := h.sessions[sess.ID] == sess
	if current && sess.state == SessionConnecting {
		sess.state = SessionActive
	}
	h.mu.Unlock()

	if !current {
		h.svc.dropSubscription(sess)
		sess.closePipes()
		return nil, models.ErrSessionClosed
	}

	h.logger.Info("session attached",
		zap.String("session_id", sess.ID.String()),
		zap.String("player_id", playerID.String()),
		zap.String("room_id", roomID.String()),
		zap.Bool("resumed", resumed))
	return sess, nil
}

// resumableLocked finds the session resumeID may continue; it must carry
// the same identity and room as the attach. A session past its grace
// window is expired on the spot and the attach proceeds fresh.
func (h *Hub) resumableLocked(resumeID, roomID, playerID uuid.UUID, now time.Time) *Session {
	if resumeID == uuid.Nil {
		return nil
	}
	sess := h.sessions[resumeID]
	if sess == nil || sess.PlayerID != playerID || sess.RoomID != roomID {
		return nil
	}
	if sess.state == SessionDisconnected && now.Sub(sess.disconnectedAt) > h.opts.ReconnectGrace {
		h.expireLocked(sess)
		return nil
	}
	return sess
}

// Heartbeat refreshes a session's liveness clock.
func (h *Hub) Heartbeat(sessionID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess := h.sessions[sessionID]
	if sess == nil || sess.state == SessionExpired {
		return models.ErrSessionNotFound
	}
	sess.lastSeen = time.Now()
	return nil
}

// RequestSnapshot pushes a fresh full snapshot onto the session's stream.
func (h *Hub) RequestSnapshot(sessionID uuid.UUID) error {
	h.mu.RLock()
	sess := h.sessions[sessionID]
	h.mu.RUnlock()
	if sess == nil {
		return models.ErrSessionNotFound
	}
	return h.svc.pushSnapshot(sess)
}

// Degrade moves a live session to Disconnected: transport shut, bus
// subscription dropped, player flagged offline, grace clock started.
func (h *Hub) Degrade(sessionID uuid.UUID, reason string) {
	h.mu.Lock()
	sess := h.sessions[sessionID]
	if sess == nil || sess.state == SessionDisconnected || sess.state == SessionExpired {
		h.mu.Unlock()
		return
	}
	h.degradeLocked(sess, time.Now())
	h.mu.Unlock()

	h.finishDegrade(sess, reason)
}

// degradeLocked flips the state and shuts the transport in the same
// critical section, so a resume racing this can never have its fresh
// pipes closed by a stale disconnect.
func (h *Hub) degradeLocked(sess *Session, now time.Time) {
	sess.state = SessionDisconnected
	sess.disconnectedAt = now
	sess.closePipes()
}

// finishDegrade runs the side effects that take room locks; the caller
// must have released h.mu.
func (h *Hub) finishDegrade(sess *Session, reason string) {
	h.svc.dropSubscription(sess)

	// The player may have attached a newer session in the meantime; only
	// their current one may flag them offline. Host sessions have no
	// presence to flip.
	h.mu.RLock()
	current := sess.PlayerID != uuid.Nil && h.byPlayer[sess.PlayerID] == sess.ID
	h.mu.RUnlock()
	if current {
		h.svc.markConnected(sess.PlayerID, false)
	}

	h.logger.Info("session disconnected",
		zap.String("session_id", sess.ID.String()),
		zap.String("player_id", sess.PlayerID.String()),
		zap.String("reason", reason))
}

// Expire removes a session for good. Resuming its id afterwards fails
// and the client has to attach fresh.
func (h *Hub) Expire(sessionID uuid.UUID) {
	h.mu.Lock()
	sess := h.sessions[sessionID]
	if sess == nil {
		h.mu.Unlock()
		return
	}
	wasLive := sess.state == SessionActive || sess.state == SessionConnecting
	h.expireLocked(sess)
	h.mu.Unlock()

	h.finishExpire(sess, wasLive)
}

func (h *Hub) expireLocked(sess *Session) {
	sess.state = SessionExpired
	delete(h.sessions, sess.ID)
	if h.byPlayer[sess.PlayerID] == sess.ID {
		delete(h.byPlayer, sess.PlayerID)
	}
	sess.closePipes()
}

func (h *Hub) finishExpire(sess *Session, wasLive bool) {
	h.svc.dropSubscription(sess)
	if wasLive && sess.PlayerID != uuid.Nil {
		h.svc.markConnected(sess.PlayerID, false)
	}

	h.logger.Info("session expired",
		zap.String("session_id", sess.ID.String()),
		zap.String("player_id", sess.PlayerID.String()))
}

// Run drives the liveness sweeps until ctx is done: heartbeat timeouts,
// grace expiries and idle-room eviction.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(time.Second)
	evict := time.NewTicker(time.Minute)
	defer sweep.Stop()
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sweep.C:
			h.sweep(now)
		case <-evict.C:
			h.svc.EvictIdleRooms(h.opts.RoomIdleTimeout)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	var stale, lapsed []*Session
	h.mu.Lock()
	for _, sess := range h.sessions {
		switch sess.state {
		case SessionActive, SessionConnecting:
			if now.Sub(sess.lastSeen) > h.opts.HeartbeatTimeout {
				h.degradeLocked(sess, now)
				stale = append(stale, sess)
			}
		case SessionDisconnected:
			if now.Sub(sess.disconnectedAt) > h.opts.ReconnectGrace {
				h.expireLocked(sess)
				lapsed = append(lapsed, sess)
			}
		}
	}
	h.mu.Unlock()

	for _, sess := range stale {
		h.finishDegrade(sess, "heartbeat timeout")
	}
	for _, sess := range lapsed {
		// Already offline since the disconnect; only the bookkeeping goes.
		h.finishExpire(sess, false)
	}
}

// GatewayStats is reported by the stats endpoint.
type GatewayStats struct {
	Sessions     int `json:"sessions"`
	Active       int `json:"active"`
	Disconnected int `json:"disconnected"`
}

func (h *Hub) Stats() GatewayStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := GatewayStats{Sessions: len(h.sessions)}
	for _, sess := range h.sessions {
		switch sess.state {
		case SessionActive, SessionConnecting:
			st.Active++
		case SessionDisconnected:
			st.Disconnected++
		}
	}
	return st
}

// Close expires every session; used on server shutdown after Run has
// stopped.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]uuid.UUID, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Expire(id)
	}
}
