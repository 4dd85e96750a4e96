// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file records one usage entry per authenticated API call after the
// handler has run. Unmatched routes and anonymous callers are skipped.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// usageWriteTimeout bounds the usage write after the handler finished.
const usageWriteTimeout = 2 * time.Second

// Usage describes one finished API call.
type Usage struct {
	UserID    string
	Endpoint  string
	Method    string
	Status    int
	Duration  time.Duration
	IP        string
	UserAgent string
}

// UsageSink persists a Usage entry.
type UsageSink func(ctx context.Context, u Usage) error

// UsageLog calls sink for every authenticated request that matched a route.
// Sink errors are logged and never change the response.
func UsageLog(sink UsageSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if sink == nil {
			return
		}
		uid := UserID(c)
		endpoint := c.FullPath()
		if uid == "" || endpoint == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), usageWriteTimeout)
		defer cancel()
		err := sink(ctx, Usage{
			UserID:    uid,
			Endpoint:  endpoint,
			Method:    c.Request.Method,
			Status:    c.Writer.Status(),
			Duration:  time.Since(start),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("endpoint", endpoint).Msg("usage log write failed")
		}
	}
}
