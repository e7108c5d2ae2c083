package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-service/internal/directory"
	"conversation-service/internal/observability"
	"conversation-service/internal/ratelimit"
	"conversation-service/internal/store"
)

// MessageHandler serves paginated history reads.
type MessageHandler struct {
	store     store.MessageStore
	presence  store.PresenceTracker
	directory directory.Directory
	limiter   ratelimit.Limiter
	logger    zerolog.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageStore store.MessageStore, presence store.PresenceTracker, dir directory.Directory, limiter ratelimit.Limiter, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		store:     messageStore,
		presence:  presence,
		directory: dir,
		limiter:   limiter,
		logger:    logger,
	}
}

// GetConversationMessages returns one page of a conversation's history,
// newest page first, each page in chronological order. Reading history also
// advances the reader's cursor.
func (h *MessageHandler) GetConversationMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := uuid.Parse(conversationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")

	decision, err := h.limiter.Allow(c.Request.Context(), strconv.Itoa(userID), ratelimit.ClassHistoryRead)
	if err != nil {
		h.logger.Warn().Err(err).Msg("rate limiter unavailable, admitting history read")
	} else if !decision.Allowed {
		observability.IncRateLimitDenied(ratelimit.ClassHistoryRead.Name)
		retryAfter := int(decision.RetryAfter.Seconds())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"status":      "error",
			"message":     "rate limit exceeded",
			"retry_after": retryAfter,
		})
		return
	}

	member, err := h.directory.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to verify membership"})
		return
	}
	if !member {
		h.logger.Warn().
			Int("user_id", userID).
			Str("conversation_id", conversationID).
			Msg("history read without conversation membership")
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "you are not a participant in this conversation"})
		return
	}

	limit := intQuery(c, "limit", store.DefaultPageSize)
	offset := intQuery(c, "offset", 0)

	messages, total, err := h.store.Range(c.Request.Context(), conversationID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("history read failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "message store unavailable"})
		return
	}

	if err := h.presence.SetRead(c.Request.Context(), conversationID, userID); err != nil {
		h.logger.Warn().Err(err).Msg("failed to advance read cursor")
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"conversation_id": conversationID,
			"messages":        messages,
			"count":           len(messages),
			"total":           total,
		},
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	val := c.Query(name)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
