package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"craftshop/storefront/logging"
)

const (
	// ContextRequestID holds the id of the current request.
	ContextRequestID = "request_id"

	requestIDHeader = "X-Request-ID"
	slowRequest     = time.Second
)

// RequestID propagates an upstream X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request and warns on slow ones.
func AccessLog() gin.HandlerFunc {
	log := logging.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case elapsed > slowRequest:
			ev = log.Warn()
		}
		ev.Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
