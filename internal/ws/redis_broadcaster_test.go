package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSubscriber struct {
	id     string
	userID int
	ch     chan []byte
}

func newChanSubscriber(id string, userID int) *chanSubscriber {
	return &chanSubscriber{id: id, userID: userID, ch: make(chan []byte, 8)}
}

func (c *chanSubscriber) ID() string    { return c.id }
func (c *chanSubscriber) UserID() int   { return c.userID }
func (c *chanSubscriber) Drop(s string) {}

func (c *chanSubscriber) Deliver(p []byte) bool {
	select {
	case c.ch <- p:
		return true
	default:
		return false
	}
}

func (c *chanSubscriber) receive(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func (c *chanSubscriber) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
		t.Fatal("unexpected delivery")
	case <-time.After(200 * time.Millisecond):
	}
}

func newRunningBroadcaster(t *testing.T) (*RedisBroadcaster, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rb := NewRedisBroadcaster(client, NewHub(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rb.Run(ctx)

	// The subscription loop attaches asynchronously; wait until a publish
	// actually reaches it. The warmup envelope targets an empty room.
	require.Eventually(t, func() bool {
		return mr.Publish(broadcastChannel, `{"conversation_id":"warmup"}`) > 0
	}, 2*time.Second, 10*time.Millisecond)

	return rb, mr
}

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	rb, _ := newRunningBroadcaster(t)

	alice := newChanSubscriber("c1", 1)
	bob := newChanSubscriber("c2", 2)
	elsewhere := newChanSubscriber("c3", 3)
	rb.Join("conv-a", alice)
	rb.Join("conv-a", bob)
	rb.Join("conv-b", elsewhere)

	env := Envelope{ConversationID: "conv-a", Payload: json.RawMessage(`{"type":"message"}`)}
	require.NoError(t, rb.Broadcast(context.Background(), env))

	assert.JSONEq(t, `{"type":"message"}`, string(alice.receive(t)))
	assert.JSONEq(t, `{"type":"message"}`, string(bob.receive(t)))
	elsewhere.expectNothing(t)
}

func TestRedisBroadcasterPreservesExclusion(t *testing.T) {
	rb, _ := newRunningBroadcaster(t)

	typer := newChanSubscriber("c1", 1)
	other := newChanSubscriber("c2", 2)
	rb.Join("conv-a", typer)
	rb.Join("conv-a", other)

	env := Envelope{ConversationID: "conv-a", ExcludeUserID: 1, Payload: json.RawMessage(`{"type":"typing"}`)}
	require.NoError(t, rb.Broadcast(context.Background(), env))

	assert.JSONEq(t, `{"type":"typing"}`, string(other.receive(t)))
	typer.expectNothing(t)
}

func TestRedisBroadcasterSurvivesMalformedEnvelope(t *testing.T) {
	rb, mr := newRunningBroadcaster(t)

	bob := newChanSubscriber("c1", 2)
	rb.Join("conv-a", bob)

	mr.Publish(broadcastChannel, "not json")

	env := Envelope{ConversationID: "conv-a", Payload: json.RawMessage(`{"type":"message"}`)}
	require.NoError(t, rb.Broadcast(context.Background(), env))

	assert.JSONEq(t, `{"type":"message"}`, string(bob.receive(t)),
		"the loop keeps consuming after a bad envelope")
}
