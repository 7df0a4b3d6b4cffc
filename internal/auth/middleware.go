// Package auth guards operator routes with a shared admin secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderAdminSecret carries the secret when Authorization is taken.
const HeaderAdminSecret = "X-Admin-Secret"

// ContextKeyAdmin is set to true on requests that presented the secret.
const ContextKeyAdmin = "admin"

// RequireAdmin rejects requests that do not present secret either as
// "Authorization: Bearer <secret>" or in X-Admin-Secret. With an empty
// secret every request passes; the server only does that in development.
func RequireAdmin(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Set(ContextKeyAdmin, true)
			c.Next()
			return
		}

		got := presented(c)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required. Include 'Authorization: Bearer <secret>' header.",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

func presented(c *gin.Context) string {
	if v := c.GetHeader(HeaderAdminSecret); v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// IsAdmin reports whether RequireAdmin accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}
