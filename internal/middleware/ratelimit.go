package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/scoreroom/internal/ratelimit"
)

// KeyFunc derives the rate limit key for a request
type KeyFunc func(r *http.Request) string

// RateLimit rejects requests once the limiter refuses the request's key.
// Limiter failures are logged and the request is let through.
func RateLimit(limiter ratelimit.Limiter, key KeyFunc, onLimited http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			allowed, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.Error("rate limiter failed", slog.String("key", k), slog.Any("error", err))
			}
			if !allowed {
				logger.Warn("request rate limited",
					slog.String("key", k),
					slog.String("path", r.URL.Path),
				)
				onLimited(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
