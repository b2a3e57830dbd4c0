package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/model"
	"github.com/mcoot/scoreroom/internal/storage"
)

// Config holds expiry settings for the in-memory backend
type Config struct {
	RoomTTL     time.Duration
	RegistryTTL time.Duration
}

// DefaultConfig returns the same expiries the redis backend uses
func DefaultConfig() Config {
	return Config{
		RoomTTL:     time.Hour,
		RegistryTTL: 24 * time.Hour,
	}
}

// roomLockStripes is the number of mutexes room mutations are spread over
const roomLockStripes = 64

type roomEntry struct {
	room      *model.Room
	expiresAt time.Time
}

type membershipEntry struct {
	membership model.Membership
	expiresAt  time.Time
}

type attemptEntry struct {
	record    model.AttemptRecord
	expiresAt time.Time
}

// Storage is an in-memory implementation of the storage interface. Entries
// carry an expiry timestamp; reads ignore expired entries and Sweep (driven
// by RunJanitor) deletes them.
type Storage struct {
	mu sync.RWMutex
	// roomLocks serialize read-modify-write per room; mu only guards the maps
	roomLocks [roomLockStripes]sync.Mutex

	clock clock.Clock
	cfg   Config

	rooms       map[model.RoomCode]*roomEntry
	memberships map[string]*membershipEntry
	attempts    map[string]*attemptEntry
}

// New creates a new in-memory storage instance
func New(clk clock.Clock, cfg Config) *Storage {
	if cfg.RoomTTL == 0 {
		cfg.RoomTTL = DefaultConfig().RoomTTL
	}
	if cfg.RegistryTTL == 0 {
		cfg.RegistryTTL = DefaultConfig().RegistryTTL
	}
	return &Storage{
		clock:       clk,
		cfg:         cfg,
		rooms:       make(map[model.RoomCode]*roomEntry),
		memberships: make(map[string]*membershipEntry),
		attempts:    make(map[string]*attemptEntry),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Kind returns the backend name
func (s *Storage) Kind() string {
	return "memory"
}

// Close is a no-op for the in-memory backend
func (s *Storage) Close() error {
	return nil
}

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if entry, ok := s.rooms[room.ID]; ok && now.Before(entry.expiresAt) {
		return model.ErrRoomExists
	}
	s.rooms[room.ID] = &roomEntry{room: room.Clone(), expiresAt: now.Add(s.cfg.RoomTTL)}
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[code]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		return nil, model.ErrRoomNotFound
	}
	return entry.room.Clone(), nil
}

func (s *Storage) UpdateRoom(ctx context.Context, room *model.Room) error {
	lock := s.roomLock(room.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = &roomEntry{room: room.Clone(), expiresAt: s.clock.Now().Add(s.cfg.RoomTTL)}
	return nil
}

func (s *Storage) DeleteRoom(ctx context.Context, code model.RoomCode) error {
	lock := s.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	return nil
}

// MutateRoom runs fn on a copy of the room while holding that room's lock,
// then writes the copy back. Mutations of different rooms only contend on
// the short map updates.
func (s *Storage) MutateRoom(ctx context.Context, code model.RoomCode, fn storage.MutateFunc) (*model.Room, error) {
	lock := s.roomLock(code)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	entry, ok := s.rooms[code]
	live := ok && s.clock.Now().Before(entry.expiresAt)
	s.mu.RUnlock()
	if !live {
		return nil, model.ErrRoomNotFound
	}

	working := entry.room.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Swept or recreated while fn ran
	if s.rooms[code] != entry {
		return nil, model.ErrRoomNotFound
	}

	now := s.clock.Now()
	working.Version = entry.room.Version + 1
	working.UpdatedAt = now
	s.rooms[code] = &roomEntry{room: working, expiresAt: now.Add(s.cfg.RoomTTL)}
	return working.Clone(), nil
}

func (s *Storage) roomLock(code model.RoomCode) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return &s.roomLocks[h.Sum32()%roomLockStripes]
}

// Connection registry operations

func (s *Storage) SetMembership(ctx context.Context, connID string, m model.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[connID] = &membershipEntry{membership: m, expiresAt: s.clock.Now().Add(s.cfg.RegistryTTL)}
	return nil
}

func (s *Storage) GetMembership(ctx context.Context, connID string) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.memberships[connID]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		return nil, model.ErrMembershipNotFound
	}
	m := entry.membership
	return &m, nil
}

func (s *Storage) DeleteMembership(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, connID)
	return nil
}

// Attempt operations

func (s *Storage) GetAttempts(ctx context.Context, key string) (*model.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.attempts[key]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		return nil, nil
	}
	record := entry.record
	return &record, nil
}

func (s *Storage) RecordFailure(ctx context.Context, key string, now time.Time, maxAttempts int, lockout, ttl time.Duration) (*model.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.attempts[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &attemptEntry{}
		s.attempts[key] = entry
	}
	entry.record.Attempts++
	if entry.record.Attempts >= maxAttempts {
		entry.record.LockedUntil = now.Add(lockout)
	}
	entry.expiresAt = now.Add(ttl)

	record := entry.record
	return &record, nil
}

func (s *Storage) ClearAttempts(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

// Expiry

// Sweep deletes every expired entry and returns how many were removed
func (s *Storage) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for code, entry := range s.rooms {
		if !now.Before(entry.expiresAt) {
			delete(s.rooms, code)
			removed++
		}
	}
	for id, entry := range s.memberships {
		if !now.Before(entry.expiresAt) {
			delete(s.memberships, id)
			removed++
		}
	}
	for key, entry := range s.attempts {
		if !now.Before(entry.expiresAt) {
			delete(s.attempts, key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired entries every interval until ctx is done
func (s *Storage) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Info("memory store swept expired entries", slog.Int("removed", removed))
			}
		}
	}
}

// RoomCount returns the number of live rooms
func (s *Storage) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	count := 0
	for _, entry := range s.rooms {
		if now.Before(entry.expiresAt) {
			count++
		}
	}
	return count
}
