package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func conversationMessagesKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func typingKey(conversationID string, userID int) string {
	return fmt.Sprintf("conversation:%s:user:%d:typing", conversationID, userID)
}

func readCursorKey(conversationID string, userID int) string {
	return fmt.Sprintf("conversation:%s:user:%d:read", conversationID, userID)
}
