// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation and access-log pieces:
//
//   - RequestID() accepts a well-formed X-Request-ID from the caller or mints
//     a UUID, and echoes it on the response.
//   - Logger() is the verbose access log used in debug mode. It records the
//     caller (user, role, client IP, UA), the Idempotency-Key and sizes.
//   - Recovery() turns panics into the standard JSON 500 envelope.
//   - LoggerFrom() returns the request-scoped logger. Code that only has a
//     context.Context uses zerolog's log.Ctx(ctx), which resolves to the same
//     logger.
//
// Order: RequestID, Authenticate, Logger (or RedactingLogger), Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLength bounds caller-supplied correlation IDs.
	maxRequestIDLength = 128
	maxQueryLogLength  = 2048
	maxIdemKeyLogLen   = 64
)

// RequestID attaches (or propagates) a correlation identifier per request.
// Caller-supplied IDs that are too long or contain non-printable characters
// are replaced with a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID of the request, or "".
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s := asString(v); s != "" {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

// Logger writes one structured access log line per request. The level
// follows the outcome: error for 5xx or recorded Gin errors, warn for 4xx,
// info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		l := scopeLogger(c, func(zc zerolog.Context) zerolog.Context {
			return zc.
				Str("role", string(UserRole(c))).
				Str("remote_ip", c.ClientIP()).
				Str("user_agent", c.Request.UserAgent()).
				Str("idempotency_key", truncate(c.GetHeader(HeaderIdempotencyKey), maxIdemKeyLogLen)).
				Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
				Int64("bytes_in", c.Request.ContentLength)
		})

		c.Next()

		ev := eventFor(l, c.Writer.Status(), len(c.Errors) > 0)
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Msg("request")
	}
}

// Recovery intercepts panics, logs the stack with the request-scoped logger
// and, if nothing was written yet, replies with the internal_error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", RequestIDFrom(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, RequestIDFrom(c))
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or the global logger
// when no access-log middleware ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// scopeLogger builds the request-scoped logger (request id, user, method,
// route) plus any extra fields, and stores it in both the Gin context and the
// request context.
func scopeLogger(c *gin.Context, extra func(zerolog.Context) zerolog.Context) *zerolog.Logger {
	zc := log.With().
		Str("request_id", RequestIDFrom(c)).
		Str("user_id", UserID(c)).
		Str("method", c.Request.Method).
		Str("path", routePath(c))
	if extra != nil {
		zc = extra(zc)
	}
	l := zc.Logger()
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
	return &l
}

// routePath is the matched route template, or the raw path for unmatched
// requests.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func eventFor(l *zerolog.Logger, status int, hasErrors bool) *zerolog.Event {
	switch {
	case hasErrors || status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
