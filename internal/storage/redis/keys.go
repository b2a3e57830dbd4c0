package redis

import (
	"fmt"

	"github.com/mcoot/scoreroom/internal/model"
)

// Key prefix for all room-related data
const keyPrefix = "scoreroom"

// roomKey returns the Redis key for a Room snapshot
func roomKey(code model.RoomCode) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, code)
}

// socketKey returns the Redis key for a connection's membership
func socketKey(connID string) string {
	return fmt.Sprintf("%s:socket:%s", keyPrefix, connID)
}

// attemptsKey returns the Redis hash key for a password attempt record
func attemptsKey(key string) string {
	return fmt.Sprintf("%s:pwd_rate_limit:%s", keyPrefix, key)
}
