// Package handlers exposes the moderation API over HTTP.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services, and translate results into HTTP responses
// (including conditional and idempotent responses).
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/http/middleware"
	"github.com/tbourn/brandsafe-backend/internal/services"
	"github.com/tbourn/brandsafe-backend/internal/storage"
	"github.com/tbourn/brandsafe-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ModerationService runs submissions and serves the caller's history.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ModerationService interface {
	// Submit validates, classifies and persists one submission.
	Submit(ctx context.Context, req services.SubmitRequest) (*domain.ModerationRecord, error)
	// History returns a newest-first page of userID's records and the total.
	History(ctx context.Context, userID string, page, pageSize int) ([]domain.ModerationRecord, int64, error)
	// Get returns one of userID's records.
	Get(ctx context.Context, userID, id string) (*domain.ModerationRecord, error)
	// HistoryVersion reports the record count and latest update for ETags.
	HistoryVersion(ctx context.Context, userID string) (int64, *time.Time, error)
	// Reserve claims an idempotency key, or returns the record it is bound to.
	Reserve(ctx context.Context, userID, scope, key string) (*domain.ModerationRecord, error)
	// Remember binds an idempotency key to a record.
	Remember(ctx context.Context, userID, scope, key, recordID string) error
	// Release frees a reserved key whose request produced no record.
	Release(ctx context.Context, userID, scope, key string) error
}

// AnalyticsService computes dashboard statistics.
type AnalyticsService interface {
	Dashboard(ctx context.Context, scope services.Scope) (*services.DashboardStats, error)
}

// UsageService summarizes recorded API usage.
type UsageService interface {
	TopEndpoints(ctx context.Context, scope services.Scope) (*services.UsageSummary, error)
}

// AuthService manages accounts, sessions and profiles.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.Session, error)
	Login(ctx context.Context, username, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, p services.ProfileUpdate) (*domain.User, error)
}

//
// Handler wiring
//

// Options carries transport-level settings.
type Options struct {
	// MaxUploadBytes caps a single uploaded file. Values <= 0 default to 10 MiB.
	MaxUploadBytes int64
	// Version is reported by /health.
	Version string
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	modSvc   ModerationService
	statsSvc AnalyticsService
	usageSvc UsageService
	authSvc  AuthService
	uploads  storage.Store
	opts     Options

	// now is swapped in tests.
	now func() time.Time
}

// New constructs a Handlers instance bound to the given services and
// registers the custom binding validators.
func New(mod ModerationService, stats AnalyticsService, usage UsageService, auth AuthService, uploads storage.Store, opts Options) *Handlers {
	registerValidators()
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handlers{
		modSvc:   mod,
		statsSvc: stats,
		usageSvc: usage,
		authSvc:  auth,
		uploads:  uploads,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// clientIP returns the first X-Forwarded-For hop, falling back to the
// connection address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}

// currentUser returns the authenticated user id. Routes that call it sit
// behind middleware.RequireAuth.
func currentUser(c *gin.Context) string { return middleware.UserID(c) }
