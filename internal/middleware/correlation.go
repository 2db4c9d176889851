// Package middleware contains gin middleware shared by the HTTP surface.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oaktech/musicsync-relay/internal/logging"
)

// HeaderXCorrelationID is the header carrying the per-request correlation id.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID assigns a correlation id to every request (reusing one the
// caller supplied) and attaches it to the request context so every log
// line for this request carries it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
