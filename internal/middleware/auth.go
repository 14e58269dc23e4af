package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mx-space/portal/internal/pkg/jwt"
	"github.com/mx-space/portal/internal/pkg/portalapi"
	"github.com/mx-space/portal/internal/pkg/response"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "user_role"
	ContextKeyToken  = "user_token"
)

// Auth enforces a valid bearer token. The raw token is kept so calls to
// the portal API can be made on the user's behalf.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		claims, err := jwt.Parse(token)
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyToken, token)
		c.Request = c.Request.WithContext(portalapi.WithToken(c.Request.Context(), token))
		c.Next()
	}
}

// RequireRole rejects authenticated users whose role is not listed.
// It must run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[CurrentRole(c)]; !ok {
			response.Forbidden(c)
			return
		}
		c.Next()
	}
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

func CurrentRole(c *gin.Context) string {
	return c.GetString(ContextKeyRole)
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	// sendBeacon cannot set headers, so the unload beacon carries the token
	// in the query string.
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
