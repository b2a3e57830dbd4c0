package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/scoreroom/internal/api/apierr"
	"github.com/mcoot/scoreroom/internal/middleware"
	"github.com/mcoot/scoreroom/internal/ratelimit"
)

// HealthSource reports which storage backend is in use. Backends that can
// also be probed implement Ping.
type HealthSource interface {
	Kind() string
}

type pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger *slog.Logger
	// Storage feeds the health endpoint
	Storage HealthSource
	// WebSocket serves the realtime protocol on /ws
	WebSocket http.Handler
	// Limiter caps requests per client; nil disables limiting
	Limiter   ratelimit.Limiter
	ClientKey middleware.KeyFunc
}

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// NewRouter creates the HTTP router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger, apiPanicHandler))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Limiter != nil {
		r.Use(middleware.RateLimit(cfg.Limiter, cfg.ClientKey, rateLimited, cfg.Logger))
	}

	r.Handle("/ws", cfg.WebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", healthHandler(cfg.Storage)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteError(w, apierr.NewNotFoundError())
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteError(w, apierr.NewMethodNotAllowedError())
	})

	return r
}

func healthHandler(source HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := source.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				apierr.WriteError(w, apierr.NewServiceDegradedError(source.Kind()+" unavailable"))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Storage: source.Kind()})
	}
}

func apiPanicHandler(w http.ResponseWriter, _ *http.Request, _ any) {
	apierr.WriteError(w, apierr.NewInternalError())
}

func rateLimited(w http.ResponseWriter, _ *http.Request) {
	apierr.WriteError(w, apierr.NewTooManyRequestsError())
}
