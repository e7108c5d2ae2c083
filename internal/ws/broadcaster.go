package ws

import (
	"context"
	"encoding/json"
)

// Envelope is one broadcastable event. ExcludeUserID suppresses delivery to
// the originating user's own sessions (used for typing indicators).
type Envelope struct {
	ConversationID string          `json:"conversation_id"`
	ExcludeUserID  int             `json:"exclude_user_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Subscriber is a live session handle as the fan-out registry sees it.
// Deliver must never block; returning false marks the subscriber as unable
// to keep up and the registry will drop it.
type Subscriber interface {
	ID() string
	UserID() int
	Deliver(payload []byte) bool
	Drop(reason string)
}

// Broadcaster fans events out to every session joined to a conversation.
// Implementations exist for single-process (in-memory hub) and multi-process
// (Redis pub/sub) deployments; sessions never depend on which one is wired.
type Broadcaster interface {
	Join(conversationID string, sub Subscriber)
	Leave(conversationID string, sub Subscriber)
	Broadcast(ctx context.Context, env Envelope) error

	// Present reports whether this process still holds a session for the
	// given user in the conversation.
	Present(conversationID string, userID int) bool
}
