package storage

import (
	"context"
	"time"

	"github.com/mcoot/scoreroom/internal/model"
)

// MutateFunc changes a room in place. It may be invoked more than once when a
// concurrent write forces a retry, so it must not have side effects beyond the
// room it is given. Returning an error aborts the mutation without writing.
type MutateFunc func(room *model.Room) error

// RoomStore persists room snapshots with a sliding expiry
type RoomStore interface {
	// CreateRoom stores a new room; returns model.ErrRoomExists if the code is taken
	CreateRoom(ctx context.Context, room *model.Room) error
	// GetRoom returns a copy of the room or model.ErrRoomNotFound
	GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error)
	// UpdateRoom rewrites the full snapshot and resets the expiry
	UpdateRoom(ctx context.Context, room *model.Room) error
	// DeleteRoom removes a room immediately
	DeleteRoom(ctx context.Context, code model.RoomCode) error
	// MutateRoom atomically applies fn to the current snapshot, bumps the
	// version, writes it back and resets the expiry. It returns the committed room.
	MutateRoom(ctx context.Context, code model.RoomCode, fn MutateFunc) (*model.Room, error)
}

// ConnectionRegistry remembers which room a live connection last joined
type ConnectionRegistry interface {
	SetMembership(ctx context.Context, connID string, m model.Membership) error
	// GetMembership returns model.ErrMembershipNotFound when absent
	GetMembership(ctx context.Context, connID string) (*model.Membership, error)
	DeleteMembership(ctx context.Context, connID string) error
}

// AttemptStore holds failed password attempt records
type AttemptStore interface {
	// GetAttempts returns nil, nil when there is no record
	GetAttempts(ctx context.Context, key string) (*model.AttemptRecord, error)
	// RecordFailure atomically increments the counter for key. When the count
	// reaches maxAttempts the record is locked until now+lockout. The record
	// expires after ttl.
	RecordFailure(ctx context.Context, key string, now time.Time, maxAttempts int, lockout, ttl time.Duration) (*model.AttemptRecord, error)
	ClearAttempts(ctx context.Context, key string) error
}

// Storage bundles every store the application needs
type Storage interface {
	RoomStore
	ConnectionRegistry
	AttemptStore

	// Kind names the backend for health reporting
	Kind() string
	Close() error
}

// DefaultMaxRetries bounds optimistic retries in MutateRoom
const DefaultMaxRetries = 16
