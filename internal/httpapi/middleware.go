package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the orchestrator's control-plane API key on every
// protected route, mirroring the teacher's bearer-token auth middleware but
// checking a single shared secret instead of a per-user JWT.
type AuthMiddleware struct {
	apiKey   string
	required bool
}

// NewAuthMiddleware builds an AuthMiddleware. If required is false, auth is
// skipped entirely (local/dev mode).
func NewAuthMiddleware(apiKey string, required bool) *AuthMiddleware {
	return &AuthMiddleware{apiKey: apiKey, required: required}
}

// RequireAuth enforces the bearer token against the configured API key,
// checking the Authorization header first and falling back to an api_key
// query parameter, the same precedence order the teacher's middleware uses.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.required {
			c.Next()
			return
		}
		token := extractToken(c)
		if token == "" || token != m.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if q := c.Query("api_key"); q != "" {
		return q
	}
	return ""
}
