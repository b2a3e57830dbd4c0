package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window expiry on
// the first hit.
//
// KEYS[1] = counter key
// ARGV[1] = window size (ms)
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisFixedWindow is a FixedWindow shared by every server instance using the
// same Redis.
type RedisFixedWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	size   time.Duration
}

// Ensure RedisFixedWindow implements Limiter
var _ Limiter = (*RedisFixedWindow)(nil)

// NewRedisFixedWindow allows limit events per key every size. Keys are
// stored under prefix.
func NewRedisFixedWindow(client redis.UniversalClient, prefix string, limit int, size time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{
		client: client,
		prefix: prefix,
		limit:  int64(limit),
		size:   size,
	}
}

// Allow records an event for key and reports whether it is within the limit
func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.size.Milliseconds()).Int64()
	if err != nil {
		return true, fmt.Errorf("rate limit script: %w", err)
	}
	return count <= l.limit, nil
}
