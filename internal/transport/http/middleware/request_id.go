package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/koshcoop/society-security/internal/infra/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request ID, minting one when absent,
// and plants it in the request context for the zap access log and audit
// metadata.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, reqID)

		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID),
		)

		c.Next()
	}
}
