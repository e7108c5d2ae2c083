package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/directory"
	"conversation-service/internal/mocks"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id", handler.GetConversation)
	return r
}

func TestGetConversationSuccess(t *testing.T) {
	messageStore := new(mocks.MessageStoreMock)
	presence := new(mocks.PresenceMock)
	dir := new(mocks.DirectoryMock)
	handler := NewConversationHandler(messageStore, presence, dir, zerolog.Nop())
	router := setupConversationRouter(handler)

	participants := []directory.User{
		{ID: 1, Name: "Alice", Email: "alice@example.com"},
		{ID: 2, Name: "Bob", Email: "bob@example.com"},
	}

	dir.On("IsParticipant", mock.Anything, testConvID, 1).Return(true, nil).Once()
	dir.On("GetConversation", mock.Anything, testConvID).Return(directory.Conversation{ID: testConvID, Name: "pair"}, nil).Once()
	dir.On("Participants", mock.Anything, testConvID).Return(participants, nil).Once()
	messageStore.On("Count", mock.Anything, testConvID).Return(int64(10), nil).Once()
	presence.On("ReadCursor", mock.Anything, testConvID, 1).Return(123.456, true, nil).Once()
	messageStore.On("CountAfter", mock.Anything, testConvID, 123.456).Return(int64(3), nil).Once()
	presence.On("TypingUsers", mock.Anything, testConvID, []int{1, 2}).Return([]int{2}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+testConvID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			MessageCount  int64 `json:"message_count"`
			UnreadCount   int64 `json:"unread_count"`
			TypingUserIDs []int `json:"typing_user_ids"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(10), resp.Data.MessageCount)
	assert.Equal(t, int64(3), resp.Data.UnreadCount)
	assert.Equal(t, []int{2}, resp.Data.TypingUserIDs)

	messageStore.AssertExpectations(t)
	presence.AssertExpectations(t)
	dir.AssertExpectations(t)
}

func TestGetConversationNoCursorMeansAllUnread(t *testing.T) {
	messageStore := new(mocks.MessageStoreMock)
	presence := new(mocks.PresenceMock)
	dir := new(mocks.DirectoryMock)
	handler := NewConversationHandler(messageStore, presence, dir, zerolog.Nop())
	router := setupConversationRouter(handler)

	dir.On("IsParticipant", mock.Anything, testConvID, 1).Return(true, nil).Once()
	dir.On("GetConversation", mock.Anything, testConvID).Return(directory.Conversation{ID: testConvID}, nil).Once()
	dir.On("Participants", mock.Anything, testConvID).Return([]directory.User{{ID: 1}}, nil).Once()
	messageStore.On("Count", mock.Anything, testConvID).Return(int64(4), nil).Once()
	presence.On("ReadCursor", mock.Anything, testConvID, 1).Return(float64(0), false, nil).Once()
	presence.On("TypingUsers", mock.Anything, testConvID, []int{1}).Return(([]int)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+testConvID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			UnreadCount   int64 `json:"unread_count"`
			TypingUserIDs []int `json:"typing_user_ids"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(4), resp.Data.UnreadCount)
	assert.NotNil(t, resp.Data.TypingUserIDs)

	messageStore.AssertNotCalled(t, "CountAfter", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetConversationNotFound(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	handler := NewConversationHandler(new(mocks.MessageStoreMock), new(mocks.PresenceMock), dir, zerolog.Nop())
	router := setupConversationRouter(handler)

	dir.On("IsParticipant", mock.Anything, testConvID, 1).Return(true, nil).Once()
	dir.On("GetConversation", mock.Anything, testConvID).Return(directory.Conversation{}, directory.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+testConvID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	dir.AssertExpectations(t)
}

func TestGetConversationForbidden(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	handler := NewConversationHandler(new(mocks.MessageStoreMock), new(mocks.PresenceMock), dir, zerolog.Nop())
	router := setupConversationRouter(handler)

	dir.On("IsParticipant", mock.Anything, testConvID, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+testConvID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	dir.AssertExpectations(t)
}
