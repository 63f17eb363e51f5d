package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventRoomCreated         EventKind = "room_created"
	EventQuestionActivated   EventKind = "question_activated"
	EventQuestionDeactivated EventKind = "question_deactivated"
	EventAnswerSubmitted     EventKind = "answer_submitted"
	EventAnswerGraded        EventKind = "answer_graded"
	EventScoreChanged        EventKind = "score_changed"
	EventPlayerConnection    EventKind = "player_connection_changed"
	EventRoomEnded           EventKind = "room_ended"
)

// Event describes one committed room mutation. Seq starts at 1 and is
// contiguous per room, assigned in commit order; the payload is a snapshot
// of the mutated entity taken at commit time, so later mutations never
// alter an event already emitted.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Seq     uint64      `json:"seq"`
	RoomID  uuid.UUID   `json:"room_id"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// AnswerGradedPayload carries both entities touched by a grading decision.
type AnswerGradedPayload struct {
	Answer Answer `json:"answer"`
	Player Player `json:"player"`
}

// ScoreChangedPayload reports the requested delta and what was actually
// applied after clamping at zero.
type ScoreChangedPayload struct {
	Player  Player `json:"player"`
	Delta   int    `json:"delta"`
	Applied int    `json:"applied"`
}

// Frame is the websocket wire envelope for server-to-client traffic.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	FrameSession  = "session"
	FrameEvent    = "event"
	FrameSnapshot = "snapshot"
	FrameAnswer   = "answer"
	FrameError    = "error"
	FramePong     = "pong"
)

// FrameFor wraps a committed event for the wire.
func FrameFor(ev Event) Frame {
	return Frame{Type: FrameEvent, Payload: ev}
}

type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ErrorFrame reports a rejected websocket command.
func ErrorFrame(err error) Frame {
	return Frame{Type: FrameError, Payload: ErrorPayload{Kind: KindOf(err), Message: err.Error()}}
}
