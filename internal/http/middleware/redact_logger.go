// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access log used outside debug
// mode. It never logs bodies, masks credential headers outright and
// pattern-scrubs identifiers (UUIDs, emails, IPv4 addresses, phone numbers)
// from the query string and the remaining headers.
//
// Usage:
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	    SkipPaths:   []string{"/health", "/metrics"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
//
// MaskHeaders are extra header names (case-insensitive) whose values become
// "[REDACTED]", on top of Authorization, Cookie and Set-Cookie.
//
// SkipPaths lists routes (e.g. probes, /metrics) whose successful responses
// are not logged. Failures on those routes are still logged.
type RedactOptions struct {
	MaskHeaders []string
	SkipPaths   []string
}

// redactor scrubs identifiers out of free-form strings. UUIDs go before
// phone numbers so the loose phone pattern never eats UUID segments.
type redactor struct {
	patterns []redaction
}

type redaction struct {
	re   *regexp.Regexp
	repl string
}

var piiRedactor = redactor{patterns: []redaction{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED:ip]"},
	// Digits only, e.g. "+1 212-555-1212", "(212) 555-1212".
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}}

func (r redactor) scrub(s string) string {
	for _, p := range r.patterns {
		if s == "" {
			return s
		}
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

// headers flattens h, masking names in mask and scrubbing the rest.
func (r redactor) headers(h map[string][]string, mask map[string]struct{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.scrub(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger logs one "http_request" line per request with the scrubbed
// query and headers, status, size and latency. Level is info, warn for 4xx
// and error for 5xx. It also attaches the request-scoped logger used by
// LoggerFrom and log.Ctx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := routePath(c)
		query := piiRedactor.scrub(c.Request.URL.RawQuery)
		headers := piiRedactor.headers(c.Request.Header, mask)

		scopeLogger(c, nil)
		c.Next()

		status := c.Writer.Status()
		if _, ok := skip[path]; ok && status < 400 {
			return
		}

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		eventFor(&log.Logger, status, false).
			Str("request_id", reqID).
			Str("user_id", UserID(c)).
			Str("role", string(UserRole(c))).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
