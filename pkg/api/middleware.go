package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// workerIDHeader lets a worker identify itself when calling the API, so
// rate limits apply per worker instead of per host (all workers share the
// loopback address).
const workerIDHeader = "X-Worker-Id"

// requestLogger logs one line per request via slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"caller", callerID(c),
		}
		switch {
		case status >= 500:
			slog.Error("HTTP request", attrs...)
		case status >= 400:
			slog.Warn("HTTP request", attrs...)
		default:
			slog.Debug("HTTP request", attrs...)
		}
	}
}

// callerID identifies the rate-limit bucket owner for a request.
func callerID(c *gin.Context) string {
	if id := c.GetHeader(workerIDHeader); id != "" {
		return "worker:" + id
	}
	return "ip:" + c.ClientIP()
}
