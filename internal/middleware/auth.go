package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/service"
)

// Context keys set by Auth and read by the handlers.
const (
	ctxUserID  = "user_id"
	ctxEmail   = "email"
	ctxIsAdmin = "is_admin"
)

// TokenValidator is the slice of the auth service the middleware needs.
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// Auth rejects requests without a valid bearer token and stores the
// token's identity in the request context.
func Auth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "Missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "Authorization header must be: Bearer <token>")
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// RequireAdmin gates a route group to admin tokens. Runs after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error: "Admin access required",
				Code:  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error: message,
		Code:  "UNAUTHORIZED",
	})
}

// CallerEmail returns the authenticated account's email, or "" on
// unauthenticated routes.
func CallerEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

// CallerID returns the authenticated account's id.
func CallerID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// IsAdmin reports whether the authenticated account is an admin.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ctxIsAdmin)
}
