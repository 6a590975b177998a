package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/travelcore/booking-core/internal/requestinfo"
	"github.com/travelcore/booking-core/internal/utils"
)

// ClientInfo stores the caller's real IP and user agent on the request context
// so services can attach them to audit events
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := requestinfo.WithClient(c.Request.Context(), utils.GetRealIP(c), utils.GetUserAgent(c))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
