package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const broadcastChannel = "conversation:events"

// RedisBroadcaster extends the in-memory hub across processes: every
// broadcast is published on a shared channel and each process delivers to
// its own local sessions from the subscription loop. Events published by one
// process reach its own sessions through the same loop, so per-process
// broadcast order is preserved.
type RedisBroadcaster struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

// NewRedisBroadcaster constructs the pub/sub-backed broadcaster.
func NewRedisBroadcaster(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, hub: hub, logger: logger}
}

// Join registers the session with the local hub.
func (b *RedisBroadcaster) Join(conversationID string, sub Subscriber) {
	b.hub.Join(conversationID, sub)
}

// Leave removes the session from the local hub.
func (b *RedisBroadcaster) Leave(conversationID string, sub Subscriber) {
	b.hub.Leave(conversationID, sub)
}

// Present reports local presence only; typing cleanup is a per-process
// concern since the flags were written by sessions in this process.
func (b *RedisBroadcaster) Present(conversationID string, userID int) bool {
	return b.hub.Present(conversationID, userID)
}

// Broadcast publishes the envelope for every process, including this one.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, broadcastChannel, data).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// Run consumes the shared channel and delivers to local sessions until the
// context is cancelled. Call it once at startup.
func (b *RedisBroadcaster) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("dropping malformed broadcast envelope")
				continue
			}
			b.hub.deliverLocal(env)
		}
	}
}
