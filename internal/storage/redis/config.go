package redis

import (
	"time"

	"github.com/mcoot/scoreroom/internal/storage"
)

// Config holds Redis connection and behavior settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// TTL settings for different entity types
	RoomTTL     time.Duration
	RegistryTTL time.Duration

	// MaxRetries bounds optimistic transaction retries in MutateRoom
	MaxRetries int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		RoomTTL:      time.Hour,
		RegistryTTL:  24 * time.Hour,
		MaxRetries:   storage.DefaultMaxRetries,
	}
}
