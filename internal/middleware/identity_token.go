package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityTokenKey = "identity_token"

// RequireIdentityToken extracts the Bearer identity token. The booking service
// validates and consumes it.
func RequireIdentityToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Identity token required. Verify your phone or email first.",
				"code":    "IDENTITY_TOKEN_REQUIRED",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
			})
			c.Abort()
			return
		}

		c.Set(identityTokenKey, strings.TrimSpace(parts[1]))
		c.Next()
	}
}

// GetIdentityToken returns the token stored by RequireIdentityToken
func GetIdentityToken(c *gin.Context) string {
	return c.GetString(identityTokenKey)
}
