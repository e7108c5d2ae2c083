package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"conversation-service/internal/auth"
	"conversation-service/internal/directory"
	"conversation-service/internal/models"
	"conversation-service/internal/observability"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/ratelimit"
	"conversation-service/internal/store"
)

// ConversationWebSocketHandler accepts and supervises conversation sessions.
type ConversationWebSocketHandler struct {
	broadcaster   Broadcaster
	store         store.MessageStore
	presence      store.PresenceTracker
	limiter       ratelimit.Limiter
	authenticator auth.Authenticator
	directory     directory.Directory
	publisher     rabbitmq.Publisher
	logger        zerolog.Logger
}

// NewConversationWebSocketHandler constructs the handler.
func NewConversationWebSocketHandler(
	broadcaster Broadcaster,
	messageStore store.MessageStore,
	presence store.PresenceTracker,
	limiter ratelimit.Limiter,
	authenticator auth.Authenticator,
	dir directory.Directory,
	publisher rabbitmq.Publisher,
	logger zerolog.Logger,
) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{
		broadcaster:   broadcaster,
		store:         messageStore,
		presence:      presence,
		limiter:       limiter,
		authenticator: authenticator,
		directory:     dir,
		publisher:     publisher,
		logger:        logger,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, authorizes it against conversation
// membership, and runs the session. Connections failing authorization are
// closed with a policy close frame before they can observe any event.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := uuid.Parse(conversationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	requestID := observability.RequestIDFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()
	clientIP := observability.IPFromRequest(c.Request)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	session := NewSession(conn, conversationID, h.broadcaster, h.store, h.presence, h.limiter, h.logger, requestID, traceID)
	session.BeginAuthorizing()

	userID, err := h.authenticator.Identify(ctx, token)
	if err != nil {
		h.logger.Warn().Str("conversation_id", conversationID).Msg("unauthenticated connection attempt")
		observability.IncWSEvent("ws_rejected")
		session.Reject(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	member, err := h.directory.IsParticipant(ctx, conversationID, userID)
	if err != nil || !member {
		h.logger.Warn().
			Int("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("connection attempt without conversation membership")
		observability.IncWSEvent("ws_rejected")
		session.Reject(websocket.ClosePolicyViolation, "not a conversation participant")
		return
	}

	profile, err := h.directory.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("failed to load sender profile")
		session.Reject(websocket.CloseInternalServerErr, "failed to load profile")
		return
	}

	session.Activate(userID, profile.Name, profile.Email)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycleEvent(ctx, "ws_connect", session, clientIP, "")

	session.SendEvent(establishedEvent(conversationID))

	h.logger.Info().
		Int("user_id", userID).
		Str("conversation_id", conversationID).
		Str("conn_id", session.ID()).
		Msg("session connected")

	go session.WritePump()
	go func() {
		defer func() {
			session.Close("connection closed")
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			h.publishLifecycleEvent(context.Background(), "ws_disconnect", session, clientIP, session.CloseReason())
			h.logger.Info().
				Int("user_id", userID).
				Str("conversation_id", conversationID).
				Str("conn_id", session.ID()).
				Msg("session disconnected")
		}()
		session.ReadLoop()
	}()
}

func (h *ConversationWebSocketHandler) publishLifecycleEvent(ctx context.Context, name string, s *Session, clientIP, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"conversation_id": s.ConversationID(),
			"event":           name,
			"conn_id":         s.ID(),
			"duration_ms":     time.Since(s.ConnectedAt()).Milliseconds(),
			"reason":          reason,
		},
		"identity": map[string]any{
			"user_id": s.UserID(),
			"ip":      clientIP,
		},
	}

	headers := rabbitmq.BuildHeaders(s.requestID, s.traceID)
	err := h.publisher.PublishJSON(ctx, "ws_events.conversations", rabbitmq.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, headers)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", name).Msg("failed to publish lifecycle event")
	}
}

func establishedEvent(conversationID string) models.NoticeEvent {
	return models.NoticeEvent{
		Type:           models.EventEstablished,
		Message:        "Connected to chat",
		ConversationID: conversationID,
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
