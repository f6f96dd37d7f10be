// Package sse fans session change snapshots out to streaming HTTP
// clients.
package sse

import (
	"sync"

	"github.com/google/uuid"

	"github.com/matchhub/matchhub/internal/domain/session"
)

// clientBuffer bounds the per-client event queue. A consumer that falls
// behind drops intermediate snapshots; each event carries the full
// session document, so the next one catches it up.
const clientBuffer = 8

// Client is one streaming consumer of a session's change feed.
type Client struct {
	ID        string
	SessionID uuid.UUID
	Events    chan *session.Session

	closeOnce sync.Once
}

func NewClient(sessionID uuid.UUID) *Client {
	return &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Events:    make(chan *session.Session, clientBuffer),
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Events)
	})
}

// Hub manages SSE clients grouped by session.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send delivers the snapshot to one registered client. Unknown ids are
// ignored, so a change handler that briefly outlives its stream is
// harmless.
func (h *Hub) Send(clientID string, snapshot *session.Session) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return false
	}
	return trySend(c, snapshot)
}

// Broadcast sends the snapshot to every client of its session.
func (h *Hub) Broadcast(snapshot *session.Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.SessionID == snapshot.ID {
			trySend(c, snapshot)
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, snapshot *session.Session) bool {
	select {
	case c.Events <- snapshot:
		return true
	default:
		return false
	}
}
