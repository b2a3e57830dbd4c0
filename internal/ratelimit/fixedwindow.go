// Package ratelimit provides fixed-window request counters keyed by an
// arbitrary string (connection id, client IP).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
)

// Limiter decides whether one more event for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count   int
	started time.Time
}

// FixedWindow counts events per key in windows that start at the key's
// first event. Once a window has passed the count resets.
type FixedWindow struct {
	mu       sync.Mutex
	limit    int
	size     time.Duration
	clock    clock.Clock
	counters map[string]*window
}

// Ensure FixedWindow implements Limiter
var _ Limiter = (*FixedWindow)(nil)

// NewFixedWindow allows limit events per key every size
func NewFixedWindow(limit int, size time.Duration, clk clock.Clock) *FixedWindow {
	return &FixedWindow{
		limit:    limit,
		size:     size,
		clock:    clk,
		counters: make(map[string]*window),
	}
}

// Allow records an event for key and reports whether it is within the limit
func (l *FixedWindow) Allow(_ context.Context, key string) (bool, error) {
	return l.AllowNow(key), nil
}

// AllowNow is Allow without the context, for callers on a hot path
func (l *FixedWindow) AllowNow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.counters[key]
	if !ok || now.Sub(w.started) >= l.size {
		w = &window{started: now}
		l.counters[key] = w
	}
	w.count++
	return w.count <= l.limit
}

// Forget drops the counter for key
func (l *FixedWindow) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, key)
}

// Prune drops counters whose window has passed and returns how many were
// removed.
func (l *FixedWindow) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, w := range l.counters {
		if now.Sub(w.started) >= l.size {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// RunPruner prunes stale counters every interval until ctx is done
func (l *FixedWindow) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
