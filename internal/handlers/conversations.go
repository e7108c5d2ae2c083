package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-service/internal/directory"
	"conversation-service/internal/store"
)

// ConversationHandler serves conversation summaries: directory metadata
// combined with live counts from the message store and presence tracker.
type ConversationHandler struct {
	store     store.MessageStore
	presence  store.PresenceTracker
	directory directory.Directory
	logger    zerolog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(messageStore store.MessageStore, presence store.PresenceTracker, dir directory.Directory, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:     messageStore,
		presence:  presence,
		directory: dir,
		logger:    logger,
	}
}

// GetConversation returns conversation metadata with message_count,
// unread_count and the set of users currently typing. A user with no read
// cursor sees the whole retained history as unread.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if _, err := uuid.Parse(conversationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")

	member, err := h.directory.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "you are not a participant in this conversation"})
		return
	}

	conv, err := h.directory.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, directory.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load conversation"})
		return
	}

	participants, err := h.directory.Participants(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to load participants"})
		return
	}

	total, err := h.store.Count(c.Request.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("message count failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "message store unavailable"})
		return
	}

	unread := total
	cursor, exists, err := h.presence.ReadCursor(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load read cursor")
	} else if exists {
		unread, err = h.store.CountAfter(c.Request.Context(), conversationID, cursor)
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to count unread messages")
			unread = total
		}
	}

	participantIDs := make([]int, 0, len(participants))
	for _, p := range participants {
		participantIDs = append(participantIDs, p.ID)
	}
	typing, err := h.presence.TypingUsers(c.Request.Context(), conversationID, participantIDs)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load typing users")
		typing = nil
	}
	if typing == nil {
		typing = []int{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"conversation":    conv,
			"participants":    participants,
			"message_count":   total,
			"unread_count":    unread,
			"typing_user_ids": typing,
		},
	})
}
