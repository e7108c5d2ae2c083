package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Class names a rate-limited endpoint family with its ceiling.
type Class struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	ClassHistoryRead   = Class{Name: "history-read", Limit: 10, Window: time.Minute}
	ClassMessageSend   = Class{Name: "message-send", Limit: 30, Window: time.Minute}
	ClassAuthenticated = Class{Name: "authenticated", Limit: 120, Window: time.Minute}
	ClassAnonymous     = Class{Name: "anonymous", Limit: 30, Window: time.Minute}
)

// Decision is the outcome of an admission check. Denied calls are rejected
// immediately, never buffered; RetryAfter tells the caller how long until the
// oldest counted request ages out of the window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter is a sliding-window admission controller.
type Limiter interface {
	Allow(ctx context.Context, subject string, class Class) (Decision, error)
}

// RedisLimiter counts request timestamps in a sorted set per (subject, class).
// Entries age out of the window naturally; only admitted requests are counted.
type RedisLimiter struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger}
}

func limiterKey(subject string, class Class) string {
	return fmt.Sprintf("ratelimit:%s:%s", class.Name, subject)
}

// allowScript prunes aged-out entries, then checks the ceiling and records
// the request in one atomic step, so concurrent requests cannot both slip
// through the last slot. Returns {1, count} when admitted, {0, oldest score}
// when denied.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[2]) then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1, count}
`)

// Allow checks the subject against the class ceiling and, when admitted,
// records the request.
func (l *RedisLimiter) Allow(ctx context.Context, subject string, class Class) (Decision, error) {
	now := time.Now()
	key := limiterKey(subject, class)
	windowStart := now.Add(-class.Window)

	res, err := allowScript.Run(ctx, l.client, []string{key},
		windowStart.UnixNano(),
		class.Limit,
		now.UnixNano(),
		ulid.Make().String(),
		class.Window.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	if admitted, _ := vals[0].(int64); admitted == 1 {
		count, _ := vals[1].(int64)
		remaining := class.Limit - int(count) - 1
		if remaining < 0 {
			remaining = 0
		}
		return Decision{
			Allowed:   true,
			Remaining: remaining,
			ResetAt:   now.Add(class.Window),
		}, nil
	}

	retryAfter := class.Window
	if raw, ok := vals[1].(string); ok {
		if oldest, err := strconv.ParseFloat(raw, 64); err == nil {
			retryAfter = time.Until(time.Unix(0, int64(oldest)).Add(class.Window))
		}
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	l.logger.Warn().
		Str("class", class.Name).
		Str("subject", subject).
		Dur("retry_after", retryAfter).
		Msg("rate limit exceeded")
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    now.Add(retryAfter),
	}, nil
}
