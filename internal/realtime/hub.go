package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/scoreroom/internal/model"
)

// Hub tracks live connections and the room group each one belongs to. A
// connection is in at most one room group at a time.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[model.RoomCode]map[string]*Client
	roomOf  map[string]model.RoomCode
	logger  *slog.Logger
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[model.RoomCode]map[string]*Client),
		roomOf:  make(map[string]model.RoomCode),
		logger:  logger.With(slog.String("component", "hub")),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered",
		slog.String("conn_id", client.id),
		slog.Int("total_clients", count))
}

// Unregister removes a client from the hub and its room group, and closes
// its send queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	h.leaveLocked(client.id)
	count := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	h.logger.Info("client unregistered",
		slog.String("conn_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))
}

// JoinRoom moves the client into the room group for code
func (h *Hub) JoinRoom(client *Client, code model.RoomCode) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client.id)
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[code] = members
	}
	members[client.id] = client
	h.roomOf[client.id] = code
}

// LeaveRoom removes the client from its room group, if any
func (h *Hub) LeaveRoom(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client.id)
}

func (h *Hub) leaveLocked(connID string) {
	code, ok := h.roomOf[connID]
	if !ok {
		return
	}
	delete(h.roomOf, connID)
	if members, ok := h.rooms[code]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
}

// Broadcast queues message for every connection in the room group except
// the one with id except (pass "" to reach everyone).
func (h *Hub) Broadcast(code model.RoomCode, message []byte, except string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent, dropped := 0, 0
	for id, client := range h.rooms[code] {
		if id == except {
			continue
		}
		if h.enqueue(client, message) {
			sent++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("broadcast partial failure",
			slog.String("room", string(code)),
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
}

// SendTo queues message for one connection. It reports false when the
// connection is unknown or its buffer is full.
func (h *Hub) SendTo(connID string, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	return h.enqueue(client, message)
}

// enqueue never blocks; callers hold h.mu so the channel cannot be closed
// underneath the send.
func (h *Hub) enqueue(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		h.logger.Warn("message dropped - client buffer full",
			slog.String("conn_id", client.id))
		return false
	}
}

// RoomOf returns the room group the connection is in
func (h *Hub) RoomOf(connID string) (model.RoomCode, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	code, ok := h.roomOf[connID]
	return code, ok
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections in a room group
func (h *Hub) RoomSize(code model.RoomCode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// Close unregisters every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
	h.logger.Info("hub stopped", slog.Int("disconnected_clients", len(clients)))
}
