package services

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Natchlou/le-q/models"
)

// The event bus lives inside roomState: every method here expects rs.mu
// to be held. Assigning seq and enqueueing to subscribers inside the same
// critical section as the mutation is what guarantees that no subscriber
// ever observes events out of commit order, and that an event is only
// ever emitted for a mutation that has already been applied.

// emit commits one domain event, fanning it out to every subscriber.
// A subscriber whose buffer is full is dropped from the room on the spot
// and degraded through its session; it catches up from a fresh snapshot
// when it reconnects. Events are never skipped for a subscriber that
// stays attached.
func (rs *roomState) emit(kind models.EventKind, payload interface{}) models.Event {
	rs.seq++
	ev := models.Event{
		Kind:    kind,
		Seq:     rs.seq,
		RoomID:  rs.room.ID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	frame := models.FrameFor(ev)
	for id, sess := range rs.subscribers {
		if err := sess.enqueue(frame); err != nil {
			delete(rs.subscribers, id)
			rs.noteIdle()
			go sess.deliveryFailed(err)
		}
	}
	return ev
}

// subscribe atomically delivers a snapshot and registers the session, so
// the first event the session sees has seq == snapshot.Seq + 1.
func (rs *roomState) subscribe(sess *Session) error {
	snap := rs.sessionSnapshotLocked(sess)
	if err := sess.enqueue(models.Frame{Type: models.FrameSnapshot, Payload: snap}); err != nil {
		return err
	}
	rs.subscribers[sess.ID] = sess
	rs.idleSince = time.Time{}
	return nil
}

func (rs *roomState) unsubscribe(sessionID uuid.UUID) {
	delete(rs.subscribers, sessionID)
	rs.noteIdle()
}

// noteIdle starts the idle clock the moment the last subscriber leaves.
func (rs *roomState) noteIdle() {
	if len(rs.subscribers) == 0 && rs.idleSince.IsZero() {
		rs.idleSince = time.Now()
	}
}

// snapshotLocked builds a value-copy view of the room as of rs.seq.
// Copies keep later mutations from reaching into anything already handed
// to a client. playerID selects the own-answer section; uuid.Nil omits it.
func (rs *roomState) snapshotLocked(playerID uuid.UUID) models.RoomSnapshot {
	snap := models.RoomSnapshot{
		Room: rs.room,
		Players: standings(lo.Map(lo.Values(rs.players), func(p *models.Player, _ int) models.Player {
			return *p
		})),
		Seq: rs.seq,
	}
	if rs.activeQuestion != uuid.Nil {
		if q, ok := rs.questions[rs.activeQuestion]; ok {
			qc := *q
			snap.ActiveQuestion = &qc
		}
		if playerID != uuid.Nil {
			if aid, ok := rs.answered[playerQuestion{player: playerID, question: rs.activeQuestion}]; ok {
				if a, ok := rs.answers[aid]; ok {
					ac := *a
					snap.OwnAnswer = &ac
				}
			}
		}
	}
	return snap
}

// hostSnapshotLocked is the grading view: the anonymous snapshot plus
// every answer to the active question, oldest submission first.
func (rs *roomState) hostSnapshotLocked() models.RoomSnapshot {
	snap := rs.snapshotLocked(uuid.Nil)
	if len(rs.answers) == 0 {
		return snap
	}
	answers := lo.Map(lo.Values(rs.answers), func(a *models.Answer, _ int) models.Answer {
		return *a
	})
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
	snap.Answers = answers
	return snap
}

// sessionSnapshotLocked picks the view a session receives: players get
// their own answer back, host sessions get every answer for grading.
func (rs *roomState) sessionSnapshotLocked(sess *Session) models.RoomSnapshot {
	if sess.PlayerID == uuid.Nil {
		return rs.hostSnapshotLocked()
	}
	return rs.snapshotLocked(sess.PlayerID)
}
