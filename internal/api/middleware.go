package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roary/feed/pkg/telemetry"
)

const (
	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"
	// AuthorHeader names the signed-in user. It is set by the auth proxy in front of the API.
	AuthorHeader = "X-Roary-User"

	requestIDKey = "request_id"
	authorKey    = "author"
)

// RequestID tags each request with an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one log line per request and wraps it in a span
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := telemetry.StartSpan(c.Request.Context(), "http "+c.Request.Method)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.Info("Request handled",
			zap.String("request_id", requestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// requireAuthor rejects requests without a signed-in user
func requireAuthor(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		author := c.GetHeader(AuthorHeader)
		if author == "" {
			sendError(c, logger, errAuthRequired)
			return
		}
		c.Set(authorKey, author)
		c.Next()
	}
}
