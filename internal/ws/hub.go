package ws

import (
	"context"
	"sync"

	"conversation-service/internal/observability"
)

// Hub is the in-memory fan-out registry: conversation id to the set of
// sessions attached in this process.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]Subscriber)}
}

// Join registers a session with a conversation. Idempotent.
func (h *Hub) Join(conversationID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[string]Subscriber)
	}
	h.rooms[conversationID][sub.ID()] = sub
}

// Leave removes a session from a conversation. Idempotent and safe to call
// on abrupt disconnect.
func (h *Hub) Leave(conversationID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[conversationID]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// Broadcast delivers the envelope to every session joined to the
// conversation in this process.
func (h *Hub) Broadcast(ctx context.Context, env Envelope) error {
	h.deliverLocal(env)
	return nil
}

// Present reports whether any session for the user remains in the
// conversation.
func (h *Hub) Present(conversationID string, userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.rooms[conversationID] {
		if sub.UserID() == userID {
			return true
		}
	}
	return false
}

// deliverLocal snapshots the room and hands the payload to each session.
// Delivery is best-effort per session: one that cannot keep up is dropped
// and force-closed without affecting the others.
func (h *Hub) deliverLocal(env Envelope) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[env.ConversationID]))
	for _, sub := range h.rooms[env.ConversationID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if env.ExcludeUserID != 0 && sub.UserID() == env.ExcludeUserID {
			continue
		}
		if !sub.Deliver(env.Payload) {
			observability.IncBroadcastDropped()
			h.Leave(env.ConversationID, sub)
			sub.Drop("send buffer full")
		}
	}
}
