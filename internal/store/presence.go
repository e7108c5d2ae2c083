package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceTracker owns the ephemeral per-conversation state: typing flags
// with a short TTL and monotonic read cursors. None of it outlives the
// retention window.
type PresenceTracker interface {
	SetTyping(ctx context.Context, conversationID string, userID int, isTyping bool) error
	IsTyping(ctx context.Context, conversationID string, userID int) (bool, error)
	TypingUsers(ctx context.Context, conversationID string, userIDs []int) ([]int, error)
	SetRead(ctx context.Context, conversationID string, userID int) error
	ReadCursor(ctx context.Context, conversationID string, userID int) (float64, bool, error)
	ClearTyping(ctx context.Context, conversationID string, userID int) error
}

// advanceCursorScript overwrites the read cursor only when the new score is
// greater, so a stale acknowledgment is a no-op.
var advanceCursorScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

// RedisPresence is the Redis-backed PresenceTracker.
type RedisPresence struct {
	client    *redis.Client
	typingTTL time.Duration
	cursorTTL time.Duration
}

// NewRedisPresence constructs a RedisPresence. The cursor TTL should match
// the message retention window so cursors never outlive the history they
// point into.
func NewRedisPresence(client *redis.Client, typingTTL, cursorTTL time.Duration) *RedisPresence {
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	if cursorTTL <= 0 {
		cursorTTL = 24 * time.Hour
	}
	return &RedisPresence{client: client, typingTTL: typingTTL, cursorTTL: cursorTTL}
}

// SetTyping writes the typing flag. A true write expires to an implicit
// false after the TTL; clients are not trusted to send the follow-up.
func (p *RedisPresence) SetTyping(ctx context.Context, conversationID string, userID int, isTyping bool) error {
	key := typingKey(conversationID, userID)
	if !isTyping {
		return p.client.Del(ctx, key).Err()
	}
	return p.client.Set(ctx, key, "1", p.typingTTL).Err()
}

// IsTyping reports whether the user's typing flag is currently live.
func (p *RedisPresence) IsTyping(ctx context.Context, conversationID string, userID int) (bool, error) {
	n, err := p.client.Exists(ctx, typingKey(conversationID, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TypingUsers filters the given participant set down to users currently typing.
func (p *RedisPresence) TypingUsers(ctx context.Context, conversationID string, userIDs []int) ([]int, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, typingKey(conversationID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	typing := make([]int, 0, len(userIDs))
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			typing = append(typing, userIDs[i])
		}
	}
	return typing, nil
}

// SetRead advances the user's read cursor to now. Older acknowledgments are
// no-ops; the cursor only moves forward.
func (p *RedisPresence) SetRead(ctx context.Context, conversationID string, userID int) error {
	score := float64(time.Now().UnixNano()) / 1e9
	key := readCursorKey(conversationID, userID)
	ttl := int(p.cursorTTL / time.Second)
	return advanceCursorScript.Run(ctx, p.client, []string{key}, strconv.FormatFloat(score, 'f', -1, 64), ttl).Err()
}

// ReadCursor returns the stored cursor and whether one exists.
func (p *RedisPresence) ReadCursor(ctx context.Context, conversationID string, userID int) (float64, bool, error) {
	val, err := p.client.Get(ctx, readCursorKey(conversationID, userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

// ClearTyping drops the typing flag immediately, without waiting for the TTL.
func (p *RedisPresence) ClearTyping(ctx context.Context, conversationID string, userID int) error {
	return p.client.Del(ctx, typingKey(conversationID, userID)).Err()
}
