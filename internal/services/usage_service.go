// Package services – UsageService
//
// This file records authenticated API calls and summarizes them per
// endpoint. Rows older than the retention window are purged by the server's
// janitor.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
)

const (
	// DefaultUsageRetention is how long usage rows are kept.
	DefaultUsageRetention = 30 * 24 * time.Hour
	// DefaultUsageWindow is the period TopEndpoints summarizes.
	DefaultUsageWindow = 7 * 24 * time.Hour
	topEndpointsLimit  = 10
)

// UsageEntry describes one finished request.
type UsageEntry struct {
	UserID    string
	Endpoint  string
	Method    string
	Status    int
	Duration  time.Duration
	IP        string
	UserAgent string
}

// UsageSummary is the per-endpoint call count over a window.
type UsageSummary struct {
	Since     time.Time            `json:"since"`
	Scope     string               `json:"scope"`
	Endpoints []repo.EndpointCount `json:"endpoints"`
}

// UsageService persists and summarizes API usage.
type UsageService struct {
	DB        *gorm.DB
	Retention time.Duration
	Window    time.Duration

	// Now is swapped in tests.
	Now func() time.Time
}

// NewUsageService constructs a UsageService with default retention and window.
func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{
		DB:        db,
		Retention: DefaultUsageRetention,
		Window:    DefaultUsageWindow,
		Now:       time.Now,
	}
}

// Record stores one usage row. Anonymous calls are not recorded.
func (s *UsageService) Record(ctx context.Context, e UsageEntry) error {
	if e.UserID == "" || e.Endpoint == "" {
		return nil
	}
	row := &domain.APIUsageLog{
		UserID:         e.UserID,
		Endpoint:       truncateRunes(e.Endpoint, 100),
		Method:         e.Method,
		StatusCode:     e.Status,
		ResponseTimeMs: e.Duration.Milliseconds(),
		IPAddress:      e.IP,
		UserAgent:      optional(e.UserAgent),
	}
	return repo.CreateAPIUsage(ctx, s.DB, row)
}

// TopEndpoints summarizes the busiest endpoints in scope over the window.
func (s *UsageService) TopEndpoints(ctx context.Context, scope Scope) (*UsageSummary, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "TopEndpoints",
		trace.WithAttributes(attribute.String("scope", scope.String())),
	)
	defer span.End()

	window := s.Window
	if window <= 0 {
		window = DefaultUsageWindow
	}
	since := s.now().Add(-window)
	rows, err := repo.TopEndpoints(ctx, s.DB, scope.UserID(), since, topEndpointsLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rows == nil {
		rows = []repo.EndpointCount{}
	}
	return &UsageSummary{Since: since, Scope: scope.String(), Endpoints: rows}, nil
}

// Purge removes rows older than the retention window.
func (s *UsageService) Purge(ctx context.Context) (int64, error) {
	retention := s.Retention
	if retention <= 0 {
		retention = DefaultUsageRetention
	}
	return repo.PurgeAPIUsage(ctx, s.DB, s.now().Add(-retention))
}

func (s *UsageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
