package attempts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/model"
	"github.com/mcoot/scoreroom/internal/storage"
)

// Config holds the failed-password policy
type Config struct {
	MaxAttempts int
	Lockout     time.Duration
	// RecordTTL bounds how long a record outlives its last failure
	RecordTTL time.Duration
}

// DefaultConfig returns 5 attempts, a 15 minute lockout and a record TTL of
// twice the lockout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Lockout:     15 * time.Minute,
		RecordTTL:   30 * time.Minute,
	}
}

// Limiter counts failed password attempts per origin and room and locks the
// pair out once the threshold is reached.
type Limiter struct {
	store  storage.AttemptStore
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// New creates a new Limiter
func New(store storage.AttemptStore, clock clock.Clock, cfg Config, logger *slog.Logger) *Limiter {
	defaults := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Lockout == 0 {
		cfg.Lockout = defaults.Lockout
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = 2 * cfg.Lockout
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "attempts")),
	}
}

// Key returns the attempt store key for origin and room
func Key(origin string, code model.RoomCode) string {
	return origin + ":" + string(code)
}

// Check returns ErrRateLimited while the pair is locked out. A lockout that
// has elapsed clears the record.
func (l *Limiter) Check(ctx context.Context, origin string, code model.RoomCode) error {
	key := Key(origin, code)
	record, err := l.store.GetAttempts(ctx, key)
	if err != nil {
		return err
	}
	if record == nil || record.LockedUntil.IsZero() {
		return nil
	}

	now := l.clock.Now()
	if record.IsLocked(now) {
		return model.ErrRateLimited
	}
	return l.store.ClearAttempts(ctx, key)
}

// RecordFailure counts one failed attempt
func (l *Limiter) RecordFailure(ctx context.Context, origin string, code model.RoomCode) error {
	record, err := l.store.RecordFailure(ctx, Key(origin, code), l.clock.Now(), l.cfg.MaxAttempts, l.cfg.Lockout, l.cfg.RecordTTL)
	if err != nil {
		return err
	}
	if record.Attempts == l.cfg.MaxAttempts {
		l.logger.Warn("password attempts locked",
			slog.String("origin", origin),
			slog.String("room", string(code)),
			slog.Int("attempts", record.Attempts),
			slog.Duration("retry_after", clock.Until(l.clock, record.LockedUntil)),
		)
	}
	return nil
}

// Clear forgets all failures for the pair
func (l *Limiter) Clear(ctx context.Context, origin string, code model.RoomCode) error {
	return l.store.ClearAttempts(ctx, Key(origin, code))
}
