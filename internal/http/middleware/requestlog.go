package middleware

import (
	"time"

	"points_ledger/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger stores a request-scoped logger in the request context and logs
// one line per request. An incoming X-Request-ID is kept, otherwise one is generated.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		l := logger.With("request_id", id)
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), l))

		start := time.Now()
		c.Next()

		logger.WithContext(c.Request.Context()).Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// withAccount adds account_id to the request logger.
func withAccount(c *gin.Context, accountID string) {
	ctx := c.Request.Context()
	l := logger.WithContext(ctx).With("account_id", accountID)
	c.Request = c.Request.WithContext(logger.IntoContext(ctx, l))
}
