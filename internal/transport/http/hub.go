package http

import (
	"context"
	"log/slog"
	"sync"

	"trivia-service/internal/domain"
)

const sendBuffer = 32

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type client struct {
	groupID string
	userID  string
	send    chan outboundMessage[any]
}

// Hub routes session events to the websocket connections of each group.
// Slow connections lose messages instead of stalling the game.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) Publish(_ context.Context, e domain.Event) error {
	msg := outboundMessage[any]{Type: e.Name(), Payload: e}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[e.Group()] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("hub: dropping event for slow client",
				slog.String("event", e.Name()),
				slog.String("group", c.groupID),
				slog.String("user", c.userID),
			)
		}
	}
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.clients[c.groupID]
	if !ok {
		group = make(map[*client]struct{})
		h.clients[c.groupID] = group
	}
	group[c] = struct{}{}
}

// unregister removes c; after it returns no more events are sent to c.send.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.clients[c.groupID]
	delete(group, c)
	if len(group) == 0 {
		delete(h.clients, c.groupID)
	}
}

// Connections returns the number of connections watching a group.
func (h *Hub) Connections(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[groupID])
}
