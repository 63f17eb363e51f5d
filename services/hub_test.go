package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Natchlou/le-q/models"
)

func newTestEngine(t *testing.T) (*RoomService, *Hub) {
	t.Helper()
	logger := zap.NewNop()
	store := NewStore()
	tokens := NewTokenIssuer("engine-test-secret", time.Hour)
	mirror := NewRoomMirror(nil, 0, logger)
	archive := NewArchiveService(nil, logger)
	svc := NewRoomService(store, tokens, mirror, archive, 0, logger)
	hub := NewHub(svc, HubOptions{}, logger)
	return svc, hub
}

type fakeConn struct {
	closed atomic.Bool
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func recvFrame(t *testing.T, sess *Session, wantType string) models.Frame {
	t.Helper()
	select {
	case f := <-sess.Out():
		require.Equal(t, wantType, f.Type)
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a %s frame", wantType)
		return models.Frame{}
	}
}

// attachedPlayer sets up a room with one joined player and an attached
// session, leaving the snapshot frame unread.
func attachedPlayer(t *testing.T, svc *RoomService, hub *Hub) (models.Room, models.Player, *Session, *fakeConn) {
	t.Helper()
	room, err := svc.CreateRoom("Gateway Test")
	require.NoError(t, err)
	player, _, err := svc.JoinRoom(room.Code, "alice")
	require.NoError(t, err)
	conn := &fakeConn{}
	sess, err := hub.Attach(conn, room.Code, player.ID, uuid.Nil)
	require.NoError(t, err)
	return room, player, sess, conn
}

func TestHub_Attach(t *testing.T) {
	svc, hub := newTestEngine(t)
	room, player, sess, _ := attachedPlayer(t, svc, hub)

	t.Run("should deliver the snapshot as the first frame", func(t *testing.T) {
		req := require.New(t)
		frame := recvFrame(t, sess, models.FrameSnapshot)
		snap := frame.Payload.(models.RoomSnapshot)
		req.Equal(room.ID, snap.Room.ID)
		req.Len(snap.Players, 1)
		req.True(snap.Players[0].IsConnected)

		st := hub.Stats()
		req.Equal(1, st.Sessions)
		req.Equal(1, st.Active)
	})

	t.Run("should refuse a player the room does not know", func(t *testing.T) {
		_, err := hub.Attach(&fakeConn{}, room.Code, uuid.New(), uuid.Nil)
		require.ErrorIs(t, err, models.ErrPlayerNotFound)
	})

	t.Run("should refuse a code the player does not belong to", func(t *testing.T) {
		other, err := svc.CreateRoom("Other Room")
		require.NoError(t, err)
		_, err = hub.Attach(&fakeConn{}, other.Code, player.ID, uuid.Nil)
		require.ErrorIs(t, err, models.ErrPlayerNotFound)
	})
}

// The host console rides the same gateway as the players: it subscribes
// with the room claim from its token instead of a player id and receives
// the grading view, answers included.
func TestHub_AttachHost(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, err := svc.CreateRoom("Host Console Test")
	req.NoError(err)
	alice, _, err := svc.JoinRoom(room.Code, "alice")
	req.NoError(err)
	question, err := svc.SendQuestion(room.ID, room.ID, "2+2?", "4")
	req.NoError(err)
	aliceAnswer, err := svc.SubmitAnswer(alice.ID, question.ID, "4", 300)
	req.NoError(err)

	t.Run("should refuse a claim for another room", func(t *testing.T) {
		_, err := hub.AttachHost(&fakeConn{}, room.Code, uuid.New(), uuid.Nil)
		require.ErrorIs(t, err, models.ErrNotRoomHost)
	})

	t.Run("should refuse an unknown code", func(t *testing.T) {
		_, err := hub.AttachHost(&fakeConn{}, "ZZZZZ2", room.ID, uuid.Nil)
		require.ErrorIs(t, err, models.ErrRoomNotFound)
	})

	sess, err := hub.AttachHost(&fakeConn{}, room.Code, room.ID, uuid.Nil)
	req.NoError(err)
	req.Equal(uuid.Nil, sess.PlayerID)

	t.Run("should start from a snapshot carrying every answer", func(t *testing.T) {
		req := require.New(t)
		snap := recvFrame(t, sess, models.FrameSnapshot).Payload.(models.RoomSnapshot)
		req.Len(snap.Answers, 1)
		req.Equal(aliceAnswer.ID, snap.Answers[0].ID)
		// The console is not a player; the roster still lists alice only.
		req.Len(snap.Players, 1)
	})

	t.Run("should stream answer ids for grading as they are committed", func(t *testing.T) {
		req := require.New(t)
		bob, _, err := svc.JoinRoom(room.Code, "bob")
		req.NoError(err)
		ev := recvFrame(t, sess, models.FrameEvent).Payload.(models.Event)
		req.Equal(models.EventPlayerConnection, ev.Kind)

		bobAnswer, err := svc.SubmitAnswer(bob.ID, question.ID, "5", 800)
		req.NoError(err)
		ev = recvFrame(t, sess, models.FrameEvent).Payload.(models.Event)
		req.Equal(models.EventAnswerSubmitted, ev.Kind)
		submitted := ev.Payload.(models.Answer)
		req.Equal(bobAnswer.ID, submitted.ID)

		// The streamed id is all the host needs for the grading call.
		_, _, err = svc.MarkCorrect(room.ID, submitted.ID)
		req.NoError(err)
		ev = recvFrame(t, sess, models.FrameEvent).Payload.(models.Event)
		req.Equal(models.EventAnswerGraded, ev.Kind)
	})

	t.Run("should serve the grading view on snapshot requests", func(t *testing.T) {
		req := require.New(t)
		req.NoError(hub.RequestSnapshot(sess.ID))
		snap := recvFrame(t, sess, models.FrameSnapshot).Payload.(models.RoomSnapshot)
		req.Len(snap.Answers, 2)
		req.Nil(snap.OwnAnswer)
	})

	t.Run("should let a second console watch without displacing the first", func(t *testing.T) {
		req := require.New(t)
		second, err := hub.AttachHost(&fakeConn{}, room.Code, room.ID, uuid.Nil)
		req.NoError(err)
		recvFrame(t, second, models.FrameSnapshot)
		req.Equal(2, hub.Stats().Sessions)
		req.NoError(hub.Heartbeat(sess.ID))
	})

	t.Run("should leave player presence alone when a console drops", func(t *testing.T) {
		req := require.New(t)
		hub.Degrade(sess.ID, "console closed")
		snap, err := svc.Snapshot(room.Code, uuid.Nil)
		req.NoError(err)
		for _, p := range snap.Players {
			req.True(p.IsConnected)
		}
	})
}

func TestHub_HeartbeatTimeout(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, _, sess, conn := attachedPlayer(t, svc, hub)
	recvFrame(t, sess, models.FrameSnapshot)

	hub.sweep(time.Now().Add(hub.opts.HeartbeatTimeout + time.Second))

	st := hub.Stats()
	req.Equal(1, st.Sessions)
	req.Equal(1, st.Disconnected)
	req.True(conn.closed.Load())

	snap, err := svc.Snapshot(room.Code, uuid.Nil)
	req.NoError(err)
	req.False(snap.Players[0].IsConnected)
}

func TestHub_Heartbeat(t *testing.T) {
	_, hub := newTestEngine(t)

	t.Run("should refuse an unknown session", func(t *testing.T) {
		require.ErrorIs(t, hub.Heartbeat(uuid.New()), models.ErrSessionNotFound)
	})
}

func TestHub_ResumeWithinGrace(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, player, sess, _ := attachedPlayer(t, svc, hub)
	recvFrame(t, sess, models.FrameSnapshot)

	_, err := svc.AdjustScore(room.ID, player.ID, 3)
	req.NoError(err)
	recvFrame(t, sess, models.FrameEvent)

	hub.Degrade(sess.ID, "test drop")
	req.Equal(1, hub.Stats().Disconnected)

	resumed, err := hub.Attach(&fakeConn{}, room.Code, player.ID, sess.ID)
	req.NoError(err)
	req.Equal(sess.ID, resumed.ID)

	// A resume always starts from a fresh snapshot of the current state.
	frame := recvFrame(t, resumed, models.FrameSnapshot)
	snap := frame.Payload.(models.RoomSnapshot)
	req.Equal(3, snap.Players[0].Score)
	req.True(snap.Players[0].IsConnected)
	req.Equal(1, hub.Stats().Active)
}

func TestHub_ResumeAfterGrace(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, player, sess, _ := attachedPlayer(t, svc, hub)
	recvFrame(t, sess, models.FrameSnapshot)

	hub.Degrade(sess.ID, "test drop")
	sess.disconnectedAt = time.Now().Add(-hub.opts.ReconnectGrace - time.Minute)

	fresh, err := hub.Attach(&fakeConn{}, room.Code, player.ID, sess.ID)
	req.NoError(err)
	req.NotEqual(sess.ID, fresh.ID)
	recvFrame(t, fresh, models.FrameSnapshot)
}

func TestHub_GraceExpiry(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, player, sess, _ := attachedPlayer(t, svc, hub)
	recvFrame(t, sess, models.FrameSnapshot)

	hub.Degrade(sess.ID, "test drop")
	hub.sweep(time.Now().Add(hub.opts.ReconnectGrace + time.Second))

	req.Zero(hub.Stats().Sessions)
	req.ErrorIs(hub.Heartbeat(sess.ID), models.ErrSessionNotFound)

	// The room itself survives; only the session is gone.
	_, err := svc.Snapshot(room.Code, uuid.Nil)
	req.NoError(err)

	// The expired id cannot be resumed; the attach starts over.
	fresh, err := hub.Attach(&fakeConn{}, room.Code, player.ID, sess.ID)
	req.NoError(err)
	req.NotEqual(sess.ID, fresh.ID)
}

func TestHub_Displacement(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, player, first, conn1 := attachedPlayer(t, svc, hub)
	recvFrame(t, first, models.FrameSnapshot)

	second, err := hub.Attach(&fakeConn{}, room.Code, player.ID, uuid.Nil)
	req.NoError(err)
	req.NotEqual(first.ID, second.ID)
	recvFrame(t, second, models.FrameSnapshot)

	req.True(conn1.closed.Load())
	req.ErrorIs(hub.Heartbeat(first.ID), models.ErrSessionNotFound)

	st := hub.Stats()
	req.Equal(1, st.Sessions)
	req.Equal(1, st.Active)

	// The player never went offline during the handover.
	snap, err := svc.Snapshot(room.Code, uuid.Nil)
	req.NoError(err)
	req.True(snap.Players[0].IsConnected)
}

// Rival transports fighting over the same player id must end every round
// with exactly one live session and one bus subscription, however the
// attaches interleave.
func TestHub_AttachRace(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, err := svc.CreateRoom("Rival Test")
	req.NoError(err)
	player, _, err := svc.JoinRoom(room.Code, "alice")
	req.NoError(err)

	rs, ok := svc.store.roomByCode(room.Code)
	req.True(ok)

	for round := 0; round < 40; round++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = hub.Attach(&fakeConn{}, room.Code, player.ID, uuid.Nil)
			}(i)
		}
		wg.Wait()

		// An attach displaced mid-flight reports the loss; either way it
		// must not keep a subscription behind.
		for i := range errs {
			if errs[i] != nil {
				req.ErrorIs(errs[i], models.ErrSessionClosed)
			}
		}

		st := hub.Stats()
		req.Equal(1, st.Sessions)
		req.Equal(1, st.Active)

		rs.mu.Lock()
		subs := len(rs.subscribers)
		rs.mu.Unlock()
		req.Equal(1, subs)
	}
}

func TestHub_SlowConsumerDegraded(t *testing.T) {
	req := require.New(t)
	logger := zap.NewNop()
	store := NewStore()
	tokens := NewTokenIssuer("engine-test-secret", time.Hour)
	svc := NewRoomService(store, tokens, NewRoomMirror(nil, 0, logger), NewArchiveService(nil, logger), 0, logger)
	hub := NewHub(svc, HubOptions{SendBuffer: 1}, logger)

	room, player, sess, _ := attachedPlayer(t, svc, hub)
	// The unread snapshot fills the whole buffer; the next commit cannot
	// be delivered and degrades the session instead of skipping.
	_, err := svc.AdjustScore(room.ID, player.ID, 3)
	req.NoError(err)

	require.Eventually(t, func() bool {
		return hub.Stats().Disconnected == 1
	}, time.Second, 5*time.Millisecond)

	resumed, err := hub.Attach(&fakeConn{}, room.Code, player.ID, sess.ID)
	req.NoError(err)
	frame := recvFrame(t, resumed, models.FrameSnapshot)
	snap := frame.Payload.(models.RoomSnapshot)
	req.Equal(3, snap.Players[0].Score)
}

func TestHub_RequestSnapshot(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	_, _, sess, _ := attachedPlayer(t, svc, hub)

	first := recvFrame(t, sess, models.FrameSnapshot).Payload.(models.RoomSnapshot)

	req.NoError(hub.RequestSnapshot(sess.ID))
	second := recvFrame(t, sess, models.FrameSnapshot).Payload.(models.RoomSnapshot)
	req.Equal(first.Seq, second.Seq)

	req.ErrorIs(hub.RequestSnapshot(uuid.New()), models.ErrSessionNotFound)
}

func TestHub_Close(t *testing.T) {
	req := require.New(t)
	svc, hub := newTestEngine(t)
	room, _, sess, conn := attachedPlayer(t, svc, hub)
	recvFrame(t, sess, models.FrameSnapshot)

	hub.Close()

	req.Zero(hub.Stats().Sessions)
	req.True(conn.closed.Load())

	snap, err := svc.Snapshot(room.Code, uuid.Nil)
	req.NoError(err)
	req.False(snap.Players[0].IsConnected)
}
