package models

import "errors"

// ErrorKind classifies command failures so transports can map them
// uniformly (HTTP status, websocket error frames).
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindFailedPrecondition ErrorKind = "failed_precondition"
	KindAlreadyExists      ErrorKind = "already_exists"
	KindResourceExhausted  ErrorKind = "resource_exhausted"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindInternal           ErrorKind = "internal"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAnswerNotFound   = errors.New("answer not found")
	ErrSessionNotFound  = errors.New("session not found")

	// ErrInvalidArgument is wrapped with the offending field, e.g.
	// fmt.Errorf("%w: pseudo must not be empty", ErrInvalidArgument).
	ErrInvalidArgument = errors.New("invalid argument")

	ErrDuplicateAnswer  = errors.New("player already answered this question")
	ErrQuestionInactive = errors.New("question is no longer active")
	ErrCodesExhausted   = errors.New("could not allocate a free room code")
	ErrNotRoomHost      = errors.New("caller is not the room host")

	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send buffer full")
)

// KindOf maps a command error to its kind. Unrecognized errors are
// internal: they indicate a bug, not a caller mistake.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRoomNotFound),
		errors.Is(err, ErrPlayerNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrAnswerNotFound),
		errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrDuplicateAnswer):
		return KindAlreadyExists
	case errors.Is(err, ErrQuestionInactive):
		return KindFailedPrecondition
	case errors.Is(err, ErrCodesExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrNotRoomHost):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
