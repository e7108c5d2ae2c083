package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/auth"
)

// AuthMiddleware validates the Authorization header via the Authenticator
// and stores the verified user id on the request context.
func AuthMiddleware(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "authentication required"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid authorization header"})
			return
		}

		userID, err := authenticator.Identify(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid token"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
