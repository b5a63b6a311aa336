package log

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ContextKeyHijacked is the key used to mark a connection as hijacked in Gin's context.
const ContextKeyHijacked = "connection_hijacked"

// MarkHijacked marks the connection as hijacked in Gin's context.
// Call this in WebSocket handlers BEFORE calling websocket.Accept() so the
// request logger never touches the hijacked writer (net/http has no Hijacked()
// accessor, see golang/go#16456).
func MarkHijacked(c *gin.Context) {
	c.Set(ContextKeyHijacked, true)
}

// IsHijacked checks if the connection has been marked as hijacked.
func IsHijacked(c *gin.Context) bool {
	return c.GetBool(ContextKeyHijacked)
}

// GinLogger returns a Gin middleware that logs requests using zerolog.
// Requests against a bridged session carry its id as the "session" field.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		if IsHijacked(c) {
			Debug().
				Str("path", path).
				Dur("duration", time.Since(start)).
				Msg("websocket closed")
			return
		}

		status := c.Writer.Status()
		event := Debug()
		switch {
		case status >= 500:
			event = Error()
		case status >= 400:
			event = Warn()
		case c.Request.Method != "GET":
			event = Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP())

		if id := c.Param("id"); id != "" {
			event.Str("session", id)
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			event.Str("error", msg)
		}

		event.Msg("request")
	}
}
