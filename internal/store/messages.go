package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"conversation-service/internal/models"
)

var (
	// ErrUnavailable wraps backing-store failures. Appends that fail this
	// way are never acknowledged as delivered.
	ErrUnavailable = errors.New("message store unavailable")

	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

const (
	// DefaultPageSize is used when a range request does not specify a limit.
	DefaultPageSize = 50
	// MaxPageSize is the hard ceiling on a single range read.
	MaxPageSize = 100

	// scoreEpsilon keeps per-conversation scores strictly increasing even
	// when the wall clock stalls or steps backwards.
	scoreEpsilon = 0.001
)

// MessageStore is the durable-with-TTL append log for conversation messages.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, msg *models.Message) error
	Range(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int64, error)
	Count(ctx context.Context, conversationID string) (int64, error)
	CountAfter(ctx context.Context, conversationID string, score float64) (int64, error)
	Ping(ctx context.Context) error
}

// RedisMessageStore keeps each conversation's history in a sorted set scored
// by append time. Any append refreshes the whole conversation's retention
// window, so an idle conversation expires as one unit.
type RedisMessageStore struct {
	client    *redis.Client
	retention time.Duration
	maxLen    int

	mu        sync.Mutex
	lastScore map[string]float64
}

// NewRedisMessageStore constructs a RedisMessageStore.
func NewRedisMessageStore(client *redis.Client, retention time.Duration, maxContentLength int) *RedisMessageStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if maxContentLength <= 0 {
		maxContentLength = 5000
	}
	return &RedisMessageStore{
		client:    client,
		retention: retention,
		maxLen:    maxContentLength,
		lastScore: make(map[string]float64),
	}
}

// Append validates the message, assigns its id and timestamp, and stores it.
// Timestamps are monotonic per conversation: max(wall clock, last+epsilon).
func (s *RedisMessageStore) Append(ctx context.Context, conversationID string, msg *models.Message) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > s.maxLen {
		return ErrContentTooLong
	}
	msg.Content = content

	now := time.Now()
	score := s.nextScore(conversationID, now)

	msg.ID = ulid.Make().String()
	msg.ConversationID = conversationID
	msg.Timestamp = score
	msg.CreatedAt = now.UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := conversationMessagesKey(conversationID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(data)})
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		s.rollbackScore(conversationID, score)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Range returns one page of messages counting back from the newest, ordered
// oldest-first within the page, along with the live total. An offset past the
// end yields an empty page, never an error.
func (s *RedisMessageStore) Range(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int64, error) {
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	key := conversationMessagesKey(conversationID)
	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	stop := total - int64(offset) - 1
	if stop < 0 {
		return []models.Message{}, total, nil
	}
	start := stop - int64(limit) + 1
	if start < 0 {
		start = 0
	}

	raw, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	messages := make([]models.Message, 0, len(raw))
	for _, data := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, total, nil
}

// Count returns the number of live messages in a conversation.
func (s *RedisMessageStore) Count(ctx context.Context, conversationID string) (int64, error) {
	count, err := s.client.ZCard(ctx, conversationMessagesKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// CountAfter returns the number of messages with a score strictly greater
// than the given one. The bound is formatted losslessly; a rounded bound
// below the real score would re-count the boundary message itself.
func (s *RedisMessageStore) CountAfter(ctx context.Context, conversationID string, score float64) (int64, error) {
	key := conversationMessagesKey(conversationID)
	bound := "(" + strconv.FormatFloat(score, 'f', -1, 64)
	count, err := s.client.ZCount(ctx, key, bound, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Ping checks store reachability.
func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisMessageStore) nextScore(conversationID string, now time.Time) float64 {
	wall := float64(now.UnixNano()) / 1e9

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastScore[conversationID]; ok && wall <= last {
		wall = last + scoreEpsilon
	}
	s.lastScore[conversationID] = wall
	return wall
}

// rollbackScore releases a reserved score after a failed append so the clock
// does not drift forward on store outages.
func (s *RedisMessageStore) rollbackScore(conversationID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScore[conversationID] == score {
		s.lastScore[conversationID] = score - scoreEpsilon
	}
}
