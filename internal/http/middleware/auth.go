// README: Firebase bearer-token auth middleware with caller identity helpers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tram/internal/infra"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth verifies the Authorization bearer token and stores the caller's UID and
// role claim on the request context. Requests without a valid token are
// rejected with 401.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

// CallerUID returns the authenticated user's UID, or "" if unauthenticated.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

// CallerRole returns the role claim of the authenticated user, or "".
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}
