package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/model"
	"github.com/mcoot/scoreroom/internal/storage"
)

// recordFailureScript increments the attempt counter and applies the lockout
// in one step so concurrent failures from the same origin are all counted.
//
// KEYS[1] = attempt hash key
// ARGV[1] = max attempts before lockout
// ARGV[2] = lockout deadline (unix ms)
// ARGV[3] = record TTL (ms)
var recordFailureScript = redis.NewScript(`
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
local locked = redis.call('HGET', KEYS[1], 'locked_until')
if not locked then
	locked = '0'
end
return {attempts, locked}
`)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
}

// New creates a new Redis storage instance
func New(cfg Config, clk clock.Clock) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, cfg, clk), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock) *Storage {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = storage.DefaultMaxRetries
	}
	return &Storage{
		client: client,
		cfg:    cfg,
		clock:  clk,
	}
}

// Kind returns the backend name
func (s *Storage) Kind() string {
	return "redis"
}

// Client exposes the underlying client so other components can share the pool
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Ping checks that Redis is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, roomKey(room.ID), data, s.cfg.RoomTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRoomExists
	}
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Storage) UpdateRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, roomKey(room.ID), data, s.cfg.RoomTTL).Err()
}

func (s *Storage) DeleteRoom(ctx context.Context, code model.RoomCode) error {
	return s.client.Del(ctx, roomKey(code)).Err()
}

// MutateRoom applies fn inside a WATCH transaction on the room key. If another
// writer commits between the read and EXEC the transaction fails and fn runs
// again against the fresh snapshot.
func (s *Storage) MutateRoom(ctx context.Context, code model.RoomCode, fn storage.MutateFunc) (*model.Room, error) {
	key := roomKey(code)
	var result *model.Room

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		var room model.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return err
		}
		if err := fn(&room); err != nil {
			return err
		}
		room.Version++
		room.UpdatedAt = s.clock.Now()

		updated, err := json.Marshal(&room)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.cfg.RoomTTL)
			return nil
		})
		if err != nil {
			return err
		}
		result = &room
		return nil
	}

	for i := 0; i < s.cfg.MaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("mutate room %s: %w", code, model.ErrConflict)
}

// Connection registry operations

func (s *Storage) SetMembership(ctx context.Context, connID string, m model.Membership) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, socketKey(connID), data, s.cfg.RegistryTTL).Err()
}

func (s *Storage) GetMembership(ctx context.Context, connID string) (*model.Membership, error) {
	data, err := s.client.Get(ctx, socketKey(connID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}

	var m model.Membership
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Storage) DeleteMembership(ctx context.Context, connID string) error {
	return s.client.Del(ctx, socketKey(connID)).Err()
}

// Attempt operations

func (s *Storage) GetAttempts(ctx context.Context, key string) (*model.AttemptRecord, error) {
	fields, err := s.client.HGetAll(ctx, attemptsKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("parse attempts: %w", err)
	}
	record := &model.AttemptRecord{Attempts: attempts}
	if raw, ok := fields["locked_until"]; ok {
		lockedUntil, err := parseMillis(raw)
		if err != nil {
			return nil, err
		}
		record.LockedUntil = lockedUntil
	}
	return record, nil
}

func (s *Storage) RecordFailure(ctx context.Context, key string, now time.Time, maxAttempts int, lockout, ttl time.Duration) (*model.AttemptRecord, error) {
	res, err := recordFailureScript.Run(ctx, s.client,
		[]string{attemptsKey(key)},
		maxAttempts,
		now.Add(lockout).UnixMilli(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected attempt script result: %v", res)
	}

	attempts, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected attempt count type %T", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected lockout type %T", res[1])
	}
	lockedUntil, err := parseMillis(raw)
	if err != nil {
		return nil, err
	}

	return &model.AttemptRecord{Attempts: int(attempts), LockedUntil: lockedUntil}, nil
}

func (s *Storage) ClearAttempts(ctx context.Context, key string) error {
	return s.client.Del(ctx, attemptsKey(key)).Err()
}

// parseMillis decodes a unix millisecond timestamp; "0" means no lockout
func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lockout: %w", err)
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}
