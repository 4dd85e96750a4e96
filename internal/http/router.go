// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, authentication, logging/redaction, panic
// recovery, metrics, CORS, security headers, compression, idempotency and
// rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/brandsafe-backend/docs"
	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/config"
	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/http/handlers"
	"github.com/tbourn/brandsafe-backend/internal/http/middleware"
	"github.com/tbourn/brandsafe-backend/internal/services"
	"github.com/tbourn/brandsafe-backend/internal/storage"
)

// defaultBodyLimit caps JSON request bodies.
const defaultBodyLimit = 1 << 20

// Services bundles what the routes depend on.
type Services struct {
	Moderation *services.ModerationService
	Analytics  *services.AnalyticsService
	Auth       *services.AuthService
	Usage      *services.UsageService // nil disables the usage log
	Uploads    storage.Store
	Tokens     *auth.Tokens
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Authenticate: resolve the bearer token and reload the account (lenient)
//  4. Access logging (verbose in debug mode, redacted otherwise)
//  5. Recovery: capture panics after logger
//  6. API usage log and body size limiter (larger cap for multipart uploads)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS, security headers and gzip
func RegisterRoutes(r *gin.Engine, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Identify the caller so logs and limits can key on the user
	var tokens middleware.TokenParser
	if svc.Tokens != nil {
		tokens = svc.Tokens
	}
	r.Use(middleware.Authenticate(tokens, accountLookup(svc.Auth)))

	// 4) Structured logging
	if cfg.GinMode == gin.DebugMode {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
			SkipPaths:   quietPaths(cfg.APIBasePath),
		}))
	}

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Per-user API usage rows, then body size limits
	if svc.Usage != nil {
		r.Use(middleware.UsageLog(usageSink(svc.Usage)))
	}
	r.Use(limitBody(defaultBodyLimit, cfg.Upload.MaxBytes+defaultBodyLimit))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		replayLookup(svc.Moderation),
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).
		Exempt(quietPaths(cfg.APIBasePath)...)
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers, HSTS only over HTTPS, token routes never cached
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{strings.TrimRight(cfg.APIBasePath, "/") + "/auth/"},
		EnablePolicy:    true,
		ExposeHeaders:   []string{"ETag", "Idempotency-Replayed"},
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	var usage handlers.UsageService
	if svc.Usage != nil {
		usage = svc.Usage
	}
	h := handlers.New(svc.Moderation, svc.Analytics, usage, svc.Auth, svc.Uploads, handlers.Options{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Version:        cfg.AppVersion,
	})

	// Liveness/health
	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/health", h.Health)

		a := api.Group("/auth")
		a.POST("/register", h.Register)
		a.POST("/login", h.Login)
		a.POST("/refresh", h.Refresh)

		p := api.Group("", middleware.RequireAuth())
		p.POST("/moderate", h.Moderate)
		p.GET("/history", h.ListHistory)
		p.GET("/history/:id", h.GetHistory)
		p.GET("/dashboard", h.Dashboard)
		if usage != nil {
			p.GET("/usage", h.Usage)
		}
		p.GET("/profile", h.GetProfile)
		p.PATCH("/profile", h.UpdateProfile)
	}
}

// accountLookup reloads the caller's account so role changes and
// deactivation apply to already issued access tokens.
func accountLookup(a *services.AuthService) middleware.AccountLookup {
	if a == nil {
		return nil
	}
	return func(ctx context.Context, userID string) (*domain.User, error) {
		u, err := a.Profile(ctx, userID)
		if errors.Is(err, services.ErrUserNotFound) {
			return nil, nil
		}
		return u, err
	}
}

// replayLookup lets the idempotency middleware flag replays so the rate
// limiter can skip them.
func replayLookup(mod *services.ModerationService) middleware.IdempotencyLookup {
	if mod == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, _ time.Time) (bool, error) {
		_, found, err := mod.Replay(ctx, userID, scope, key)
		return found, err
	}
}

// usageSink persists usage entries through the usage service.
func usageSink(u *services.UsageService) middleware.UsageSink {
	return func(ctx context.Context, e middleware.Usage) error {
		return u.Record(ctx, services.UsageEntry{
			UserID:    e.UserID,
			Endpoint:  e.Endpoint,
			Method:    e.Method,
			Status:    e.Status,
			Duration:  e.Duration,
			IP:        e.IP,
			UserAgent: e.UserAgent,
		})
	}
}

// quietPaths are probe and scrape routes: not rate limited, and not access
// logged when they succeed.
func quietPaths(base string) []string {
	paths := []string{"/health", "/metrics"}
	if base != "" && base != "/" {
		paths = append(paths, base+"/health")
	}
	return paths
}

// limitBody returns a Gin middleware that caps the request body with
// http.MaxBytesReader: maxBytes for ordinary requests and maxMultipart for
// multipart uploads. Requests exceeding the cap fail on read.
func limitBody(maxBytes, maxMultipart int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if c.ContentType() == gin.MIMEMultipartPOSTForm && maxMultipart > maxBytes {
			limit = maxMultipart
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
