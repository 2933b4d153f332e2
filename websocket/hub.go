// Package websocket keeps one live connection set per user and pushes
// payment status updates to them.
package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type Client struct {
	UserID uuid.UUID
	Conn   Conn
}

type Message struct {
	UserID  uuid.UUID
	Payload interface{}
}

// Hub serializes registration and delivery on one goroutine, so a slow
// client can only delay other pushes, never corrupt the client map.
type Hub struct {
	clients    map[uuid.UUID]map[Conn]struct{}
	mu         sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[Conn]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[Conn]struct{})
			}
			h.clients[client.UserID][client.Conn] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "user_id", client.UserID)
		case client := <-h.unregister:
			h.remove(client.UserID, client.Conn)
			h.logger.Debug("websocket client unregistered", "user_id", client.UserID)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register and Unregister return immediately once Run has stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Conn.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToUser queues a push. It reports false when the queue is full and the
// message was dropped.
func (h *Hub) SendToUser(userID uuid.UUID, payload interface{}) bool {
	select {
	case h.broadcast <- Message{UserID: userID, Payload: payload}:
		return true
	default:
		h.logger.Warn("websocket queue full, dropping push", "user_id", userID)
		return false
	}
}

func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.clients[msg.UserID]))
	for conn := range h.clients[msg.UserID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(msg.Payload); err != nil {
			h.logger.Warn("websocket write failed, dropping client", "user_id", msg.UserID, "error", err)
			conn.Close()
			h.remove(msg.UserID, conn)
		}
	}
}

func (h *Hub) remove(userID uuid.UUID, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for conn := range set {
			conn.Close()
		}
		delete(h.clients, userID)
	}
}
