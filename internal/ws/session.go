package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/ratelimit"
	"conversation-service/internal/store"
)

// State is the connection session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	sendBufferSize = 64
	maxFrameSize   = 8192

	// A session exceeding this many malformed frames is treated as abusive
	// and closed.
	maxMalformedFrames = 8

	commandTimeout = 5 * time.Second
)

// Session is one live, authorized connection within a conversation. Sender
// display fields are looked up once at activation and cached for the
// session's lifetime.
type Session struct {
	id             string
	conversationID string
	userID         int
	userName       string
	userEmail      string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	reason    string

	broadcaster Broadcaster
	store       store.MessageStore
	presence    store.PresenceTracker
	limiter     ratelimit.Limiter
	logger      zerolog.Logger

	connectedAt time.Time
	requestID   string
	traceID     string

	malformed int
}

// NewSession wraps a freshly upgraded connection. The session starts in
// Connecting and must pass through authorization before it can go Active.
func NewSession(
	conn *websocket.Conn,
	conversationID string,
	broadcaster Broadcaster,
	messageStore store.MessageStore,
	presence store.PresenceTracker,
	limiter ratelimit.Limiter,
	logger zerolog.Logger,
	requestID, traceID string,
) *Session {
	s := &Session{
		id:             newConnID(),
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		broadcaster:    broadcaster,
		store:          messageStore,
		presence:       presence,
		limiter:        limiter,
		logger:         logger,
		connectedAt:    time.Now(),
		requestID:      requestID,
		traceID:        traceID,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string             { return s.id }
func (s *Session) UserID() int            { return s.userID }
func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
func (s *Session) State() State           { return State(s.state.Load()) }
func (s *Session) setState(st State)      { s.state.Store(int32(st)) }

// CloseReason reports why the session closed. Valid once the session is
// Closed.
func (s *Session) CloseReason() string { return s.reason }

// BeginAuthorizing marks the session as awaiting identity verification.
func (s *Session) BeginAuthorizing() {
	s.setState(StateAuthorizing)
}

// Activate records the verified identity and registers with the fan-out
// registry. Only after this does the session accept commands.
func (s *Session) Activate(userID int, userName, userEmail string) {
	s.userID = userID
	s.userName = userName
	s.userEmail = userEmail
	s.broadcaster.Join(s.conversationID, s)
	s.setState(StateActive)
}

// Reject closes a connection that never reached Active, carrying a policy
// close frame so the client knows why.
func (s *Session) Reject(closeCode int, reason string) {
	msg := websocket.FormatCloseMessage(closeCode, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.Close(reason)
}

// Close tears the session down exactly once, regardless of which side
// triggered it: leaves the registry, releases typing state this user no
// longer has any session to refresh, and closes the connection.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.reason = reason

		s.broadcaster.Leave(s.conversationID, s)

		if s.userID != 0 && !s.broadcaster.Present(s.conversationID, s.userID) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.presence.ClearTyping(ctx, s.conversationID, s.userID); err != nil {
				s.logger.Warn().Err(err).Int("user_id", s.userID).Msg("failed to clear typing state on close")
			}
		}

		close(s.done)
		_ = s.conn.Close()
		s.setState(StateClosed)
	})
}

// Deliver hands a payload to the session's write pump without blocking. A
// full buffer means this client cannot keep up; the caller drops the session.
func (s *Session) Deliver(payload []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Drop force-closes a session the registry gave up on.
func (s *Session) Drop(reason string) {
	s.logger.Warn().
		Str("conn_id", s.id).
		Int("user_id", s.userID).
		Str("reason", reason).
		Msg("dropping slow session")
	s.Close(reason)
}

// SendEvent marshals and queues an outbound event for this session only.
func (s *Session) SendEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal outbound event")
		return
	}
	if !s.Deliver(payload) {
		s.logger.Warn().Str("conn_id", s.id).Msg("outbound event dropped, buffer full")
	}
}

func (s *Session) sendError(message string) {
	s.SendEvent(models.NoticeEvent{Type: models.EventError, Message: message})
}

// WritePump drains the send buffer onto the wire and keeps the connection
// alive with pings. Run in its own goroutine.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close(fmt.Sprintf("write failed: %v", err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(fmt.Sprintf("ping failed: %v", err))
				return
			}
		}
	}
}

// ReadLoop decodes and dispatches inbound commands until the connection
// drops or the session is closed.
func (s *Session) ReadLoop() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.Close(err.Error())
			return
		}
		s.handleFrame(data)
		if s.malformed > maxMalformedFrames {
			s.Close("too many malformed frames")
			return
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.malformed++
		s.sendError("Invalid message format")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch frame.Type {
	case models.FrameMessage:
		s.handleSend(ctx, frame.Content)
	case models.FrameTyping:
		s.handleTyping(ctx, frame.IsTyping)
	case models.FrameRead:
		s.handleRead(ctx)
	default:
		s.malformed++
		s.logger.Warn().Str("type", frame.Type).Msg("unknown message type")
		s.sendError("Unknown message type")
	}
}

func (s *Session) handleSend(ctx context.Context, content string) {
	decision, err := s.limiter.Allow(ctx, strconv.Itoa(s.userID), ratelimit.ClassMessageSend)
	if err != nil {
		// Admission control is advisory; fail open on limiter outages.
		s.logger.Warn().Err(err).Msg("rate limiter unavailable, admitting send")
	} else if !decision.Allowed {
		observability.IncRateLimitDenied(ratelimit.ClassMessageSend.Name)
		s.sendError(fmt.Sprintf("Rate limit exceeded, retry in %d seconds", int(decision.RetryAfter.Seconds())))
		return
	}

	msg := &models.Message{
		SenderID:    s.userID,
		SenderName:  s.userName,
		SenderEmail: s.userEmail,
		Content:     content,
	}

	if err := s.store.Append(ctx, s.conversationID, msg); err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyContent):
			s.sendError("Message content cannot be empty")
		case errors.Is(err, store.ErrContentTooLong):
			s.sendError("Message content exceeds maximum length")
		default:
			s.logger.Error().Err(err).Str("conversation_id", s.conversationID).Msg("message append failed")
			s.sendError("An error occurred processing your message")
		}
		return
	}

	observability.IncMessageAppended()
	observability.IncWSEvent("message")

	payload, err := json.Marshal(models.MessageEvent{Type: models.EventMessage, Message: msg})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal message event")
		return
	}

	// The append already succeeded; a broadcast failure leaves the message
	// retrievable via history, so it is logged rather than surfaced.
	if err := s.broadcaster.Broadcast(ctx, Envelope{ConversationID: s.conversationID, Payload: payload}); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", s.conversationID).Msg("broadcast failed")
	}
}

func (s *Session) handleTyping(ctx context.Context, isTyping bool) {
	if err := s.presence.SetTyping(ctx, s.conversationID, s.userID, isTyping); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record typing state")
	}

	observability.IncWSEvent("typing")

	payload, err := json.Marshal(models.TypingEvent{
		Type:     models.EventTyping,
		UserID:   s.userID,
		UserName: s.userName,
		IsTyping: isTyping,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal typing event")
		return
	}

	// The typer already knows they are typing; suppress the echo.
	env := Envelope{ConversationID: s.conversationID, ExcludeUserID: s.userID, Payload: payload}
	if err := s.broadcaster.Broadcast(ctx, env); err != nil {
		s.logger.Warn().Err(err).Msg("typing broadcast failed")
	}
}

func (s *Session) handleRead(ctx context.Context) {
	observability.IncWSEvent("read")
	if err := s.presence.SetRead(ctx, s.conversationID, s.userID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to advance read cursor")
	}
}
