package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Room errors
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room code already in use")
	ErrRoomFull     = errors.New("room is full")

	// Player errors
	ErrPlayerNotFound  = errors.New("player not found")
	ErrNotInRoom       = errors.New("player is not in room")
	ErrAlreadyInRoom   = errors.New("connection is already in room")
	ErrNotHost         = errors.New("player is not the host")
	ErrPlayerOnline    = errors.New("player is online")
	ErrIdentityClaimed = errors.New("player is already controlled by another connection")
	ErrDuplicateName   = errors.New("a player with this name already exists")

	// Registry errors
	ErrMembershipNotFound = errors.New("connection has no room membership")

	// Access errors
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidToken     = errors.New("invalid access token")
	ErrRateLimited      = errors.New("too many attempts")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")

	// Storage errors
	ErrConflict = errors.New("concurrent modification")
)

// InvalidInput wraps ErrInvalidInput with a human-readable reason
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ErrorKind is the client-facing classification of a failed command
type ErrorKind string

const (
	KindRoomNotFound     ErrorKind = "RoomNotFound"
	KindPlayerNotFound   ErrorKind = "PlayerNotFound"
	KindUnauthorized     ErrorKind = "Unauthorized"
	KindForbidden        ErrorKind = "Forbidden"
	KindCapacityExceeded ErrorKind = "CapacityExceeded"
	KindDuplicateName    ErrorKind = "DuplicateName"
	KindRateLimited      ErrorKind = "RateLimited"
	KindInvalidInput     ErrorKind = "InvalidInput"
	KindInternal         ErrorKind = "Internal"
)

// KindOf classifies err. Anything unrecognized is Internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return KindRoomNotFound
	case errors.Is(err, ErrPlayerNotFound):
		return KindPlayerNotFound
	case errors.Is(err, ErrNotHost),
		errors.Is(err, ErrNotInRoom),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrInvalidToken):
		return KindUnauthorized
	case errors.Is(err, ErrPlayerOnline),
		errors.Is(err, ErrIdentityClaimed),
		errors.Is(err, ErrAlreadyInRoom):
		return KindForbidden
	case errors.Is(err, ErrRoomFull):
		return KindCapacityExceeded
	case errors.Is(err, ErrDuplicateName):
		return KindDuplicateName
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// MessageOf returns the message shown to clients for err. Internal errors
// never leak their details.
func MessageOf(err error) string {
	switch KindOf(err) {
	case KindInternal:
		return "Internal server error"
	case KindRoomNotFound:
		return "Room not found"
	case KindPlayerNotFound:
		return "Player profile not found"
	case KindCapacityExceeded:
		return "Room is full."
	case KindRateLimited:
		return "Too many failed password attempts. Please try again later."
	}
	switch {
	case errors.Is(err, ErrNotHost):
		return "Only the host can perform this action"
	case errors.Is(err, ErrNotInRoom):
		return "You are not a member of this room"
	case errors.Is(err, ErrPasswordRequired):
		return "Password required"
	case errors.Is(err, ErrInvalidPassword):
		return "Incorrect password"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid access token"
	case errors.Is(err, ErrIdentityClaimed):
		return "This player is already being controlled by someone else"
	case errors.Is(err, ErrPlayerOnline):
		return "Cannot remove online players"
	case errors.Is(err, ErrAlreadyInRoom):
		return "You are already in this room"
	case errors.Is(err, ErrDuplicateName):
		return "A player with this name already exists"
	}
	return err.Error()
}
