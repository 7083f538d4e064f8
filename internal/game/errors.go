package game

import (
	"errors"
	"fmt"

	"sortrace/internal/sorting"
)

// ErrorKind classifies failures reported back to the requesting player.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPermission ErrorKind = "permission"
	KindState      ErrorKind = "state"
	KindInternal   ErrorKind = "internal"
)

var (
	ErrRoomNotFound           = newError(KindValidation, "room not found")
	ErrUnknownAlgorithm       = newError(KindValidation, "unknown algorithm")
	ErrInsufficientAlgorithms = newError(KindValidation, "at least two algorithms are required")
	ErrDuplicateAlgorithm     = newError(KindValidation, "algorithm selected twice")
	ErrInvalidSettings        = newError(KindValidation, "invalid settings")
	ErrNotInRoom              = newError(KindValidation, "player is not in this room")
	ErrBadRequest             = newError(KindValidation, "malformed request")
	ErrAlgorithmNotSelected   = newError(KindValidation, "algorithm is not part of this race")
	ErrNotHost                = newError(KindPermission, "only the host can do that")
	ErrAlreadyRacing          = newError(KindState, "a race is already running")
	ErrNotWaiting             = newError(KindState, "room is not waiting for a race")
	ErrBettingClosed          = newError(KindState, "betting is closed")
	ErrNotRacing              = newError(KindState, "no race is running")
	ErrNothingFinished        = newError(KindState, "no algorithm has finished yet")
	ErrNotFinished            = newError(KindState, "race has not finished")
)

// RoomError is an error with a kind the transport can report as room_error.
type RoomError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func newError(kind ErrorKind, msg string) *RoomError {
	return &RoomError{Kind: kind, Message: msg}
}

func (e *RoomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Is matches sentinels by kind and message so wrapped copies still compare equal.
func (e *RoomError) Is(target error) bool {
	t, ok := target.(*RoomError)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

func (e *RoomError) Unwrap() error { return e.cause }

// with returns a copy of a sentinel carrying extra detail.
func (e *RoomError) with(cause error) *RoomError {
	return &RoomError{Kind: e.Kind, Message: e.Message, cause: cause}
}

// KindOf maps any error to the kind reported to clients.
func KindOf(err error) ErrorKind {
	var re *RoomError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, sorting.ErrUnknownAlgorithm) {
		return KindValidation
	}
	return KindInternal
}
