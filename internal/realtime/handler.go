package realtime

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to realtime connections
type Handler struct {
	hub            *Hub
	router         *Router
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	logger         *slog.Logger

	// ctx outlives individual requests so disconnect handling still runs
	// after the upgrade request has returned.
	ctx context.Context
}

// NewHandler creates a new Handler. Upgrades are only accepted from the
// given browser origins; requests without an Origin header are refused.
func NewHandler(ctx context.Context, hub *Hub, router *Router, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{
		hub:            hub,
		router:         router,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		logger:         logger.With(slog.String("component", "ws")),
		ctx:            ctx,
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[strings.TrimSpace(o)] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		h.logger.Warn("blocked connection with no origin", slog.String("remote", r.RemoteAddr))
		return false
	}
	if !h.allowedOrigins[origin] {
		h.logger.Warn("blocked connection from unauthorized origin", slog.String("origin", origin))
		return false
	}
	return true
}

// ServeHTTP handles GET /ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := NewClient(uuid.NewString(), ClientIP(r), conn)
	h.hub.Register(client)

	go client.writePump()
	go h.serve(client)
}

func (h *Handler) serve(client *Client) {
	defer func() {
		h.router.Disconnected(h.ctx, client)
		h.hub.Unregister(client)
		_ = client.conn.Close()
	}()

	err := client.readPump(func(message []byte) {
		h.router.Handle(h.ctx, client, message)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		h.logger.Info("websocket closed unexpectedly",
			slog.String("conn_id", client.id),
			slog.String("error", err.Error()))
	}
}

// ClientIP returns the originating client address, honouring the first
// X-Forwarded-For hop when a reverse proxy sets it.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
