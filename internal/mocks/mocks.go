package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"conversation-service/internal/auth"
	"conversation-service/internal/directory"
	"conversation-service/internal/models"
	"conversation-service/internal/rabbitmq"
	"conversation-service/internal/ratelimit"
	"conversation-service/internal/store"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) Append(ctx context.Context, conversationID string, msg *models.Message) error {
	args := m.Called(ctx, conversationID, msg)
	return args.Error(0)
}

func (m *MessageStoreMock) Range(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int64, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Get(1).(int64), args.Error(2)
}

func (m *MessageStoreMock) Count(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) CountAfter(ctx context.Context, conversationID string, score float64) (int64, error) {
	args := m.Called(ctx, conversationID, score)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) SetTyping(ctx context.Context, conversationID string, userID int, isTyping bool) error {
	args := m.Called(ctx, conversationID, userID, isTyping)
	return args.Error(0)
}

func (m *PresenceMock) IsTyping(ctx context.Context, conversationID string, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *PresenceMock) TypingUsers(ctx context.Context, conversationID string, userIDs []int) ([]int, error) {
	args := m.Called(ctx, conversationID, userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *PresenceMock) SetRead(ctx context.Context, conversationID string, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *PresenceMock) ReadCursor(ctx context.Context, conversationID string, userID int) (float64, bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *PresenceMock) ClearTyping(ctx context.Context, conversationID string, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type LimiterMock struct {
	mock.Mock
}

func (m *LimiterMock) Allow(ctx context.Context, subject string, class ratelimit.Class) (ratelimit.Decision, error) {
	args := m.Called(ctx, subject, class)
	var decision ratelimit.Decision
	if val := args.Get(0); val != nil {
		decision = val.(ratelimit.Decision)
	}
	return decision, args.Error(1)
}

type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) Identify(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) IsParticipant(ctx context.Context, conversationID string, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *DirectoryMock) GetConversation(ctx context.Context, conversationID string) (directory.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv directory.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(directory.Conversation)
	}
	return conv, args.Error(1)
}

func (m *DirectoryMock) Participants(ctx context.Context, conversationID string) ([]directory.User, error) {
	args := m.Called(ctx, conversationID)
	var users []directory.User
	if val := args.Get(0); val != nil {
		users = val.([]directory.User)
	}
	return users, args.Error(1)
}

func (m *DirectoryMock) GetUser(ctx context.Context, userID int) (directory.User, error) {
	args := m.Called(ctx, userID)
	var user directory.User
	if val := args.Get(0); val != nil {
		user = val.(directory.User)
	}
	return user, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ store.MessageStore = (*MessageStoreMock)(nil)
var _ store.PresenceTracker = (*PresenceMock)(nil)
var _ ratelimit.Limiter = (*LimiterMock)(nil)
var _ auth.Authenticator = (*AuthenticatorMock)(nil)
var _ directory.Directory = (*DirectoryMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
