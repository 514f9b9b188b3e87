package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/platform/ctxutil"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

// RequestLogger logs one line per request. Streaming routes log when the
// stream ends, so duration_ms covers the whole turn.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With("Middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if tr, ok := ctxutil.TraceFrom(c.Request.Context()); ok {
			fields = append(fields, tr.LogFields()...)
		}
		if uid := ctxutil.RequesterID(c.Request.Context()); uid != uuid.Nil {
			fields = append(fields, "user_id", uid.String())
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
