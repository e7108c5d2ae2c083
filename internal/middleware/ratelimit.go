package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"conversation-service/internal/observability"
	"conversation-service/internal/ratelimit"
)

// RateLimitMiddleware applies the base admission class for the caller:
// authenticated users are keyed by user id, anonymous callers by client IP
// at a lower ceiling. Endpoint-specific classes are checked in handlers.
func RateLimitMiddleware(limiter ratelimit.Limiter, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		class := ratelimit.ClassAnonymous
		subject := observability.IPFromRequest(c.Request)
		if userID := c.GetInt("userID"); userID != 0 {
			class = ratelimit.ClassAuthenticated
			subject = strconv.Itoa(userID)
		}

		decision, err := limiter.Allow(c.Request.Context(), subject, class)
		if err != nil {
			// Advisory control: fail open when the limiter backend is down.
			logger.Warn().Err(err).Msg("rate limiter unavailable, admitting request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(class.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			observability.IncRateLimitDenied(class.Name)
			retryAfter := int(decision.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"message":     "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
