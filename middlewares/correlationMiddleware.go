package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const CorrelationHeader = "X-Correlation-ID"

// CorrelationMiddleware tags every request with a correlation id so a
// submission and its eventual decision can be tied together in the logs.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get(CorrelationHeader)
		if correlationId == "" {
			correlationId = uuid.New().String()
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyCorrelationId, correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(CorrelationHeader, correlationId)
		c.Next()
	}
}
