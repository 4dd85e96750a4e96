// Package services – AnalyticsService
//
// This file implements the dashboard aggregation. Every figure is computed
// fresh per call with GROUP BY / COUNT queries over the moderation log,
// scoped either to a single user or to every user.
package services

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
)

// RecentLogsLimit is how many records the dashboard embeds.
const RecentLogsLimit = 10

// Scope selects whose records are aggregated.
type Scope struct {
	userID string
}

// UserScope aggregates one user's records.
func UserScope(userID string) Scope { return Scope{userID: userID} }

// AllUsers aggregates every record.
func AllUsers() Scope { return Scope{} }

// All reports whether s spans every user.
func (s Scope) All() bool { return s.userID == "" }

// UserID returns the scoped user, or "" for AllUsers.
func (s Scope) UserID() string { return s.userID }

// String returns "all" or "user".
func (s Scope) String() string {
	if s.All() {
		return "all"
	}
	return "user"
}

// DashboardStats is the analytics payload.
type DashboardStats struct {
	TotalChecks     int64                     `json:"total_checks"`
	SafeCount       int64                     `json:"safe_count"`
	UnsafeCount     int64                     `json:"unsafe_count"`
	PendingCount    int64                     `json:"pending_count"`
	ErrorCount      int64                     `json:"error_count"`
	SafetyRate      float64                   `json:"safety_rate"`
	ChecksToday     int64                     `json:"checks_today"`
	ChecksThisWeek  int64                     `json:"checks_this_week"`
	ChecksThisMonth int64                     `json:"checks_this_month"`
	RiskBreakdown   map[string]int64          `json:"risk_breakdown"`
	TypeBreakdown   map[string]int64          `json:"type_breakdown"`
	RecentLogs      []domain.ModerationRecord `json:"recent_logs"`
	Scope           string                    `json:"scope"`
}

// AnalyticsService computes dashboard statistics.
type AnalyticsService struct {
	// DB is the GORM handle used for the aggregate queries.
	DB *gorm.DB
	// Location defines the calendar day behind checks_today.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewAnalyticsService constructs an AnalyticsService reporting "today" in loc
// (UTC when nil).
func NewAnalyticsService(db *gorm.DB, loc *time.Location) *AnalyticsService {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalyticsService{DB: db, Location: loc, Now: time.Now}
}

// Dashboard aggregates the records visible in scope.
func (s *AnalyticsService) Dashboard(ctx context.Context, scope Scope) (*DashboardStats, error) {
	tr := otel.Tracer("services/AnalyticsService")
	ctx, span := tr.Start(ctx, "Dashboard",
		trace.WithAttributes(
			attribute.String("scope", scope.String()),
			attribute.String("user.id", scope.UserID()),
		),
	)
	defer span.End()

	uid := scope.UserID()
	now := s.now()

	byResult, err := repo.CountByResult(ctx, s.DB, uid)
	if err != nil {
		return nil, err
	}
	out := &DashboardStats{
		SafeCount:    byResult[string(domain.VerdictSafe)],
		UnsafeCount:  byResult[string(domain.VerdictUnsafe)],
		PendingCount: byResult[string(domain.VerdictPending)],
		ErrorCount:   byResult[string(domain.VerdictError)],
		Scope:        scope.String(),
	}
	for _, n := range byResult {
		out.TotalChecks += n
	}
	out.SafetyRate = SafetyRate(out.SafeCount, out.TotalChecks)

	dayStart, dayEnd := dayBounds(now, s.location())
	if out.ChecksToday, err = repo.CountCreatedBetween(ctx, s.DB, uid, dayStart, dayEnd); err != nil {
		return nil, err
	}
	if out.ChecksThisWeek, err = repo.CountCreatedBetween(ctx, s.DB, uid, now.Add(-7*24*time.Hour), time.Time{}); err != nil {
		return nil, err
	}
	if out.ChecksThisMonth, err = repo.CountCreatedBetween(ctx, s.DB, uid, now.Add(-30*24*time.Hour), time.Time{}); err != nil {
		return nil, err
	}
	if out.RiskBreakdown, err = repo.CountByRisk(ctx, s.DB, uid); err != nil {
		return nil, err
	}
	if out.TypeBreakdown, err = repo.CountByInputType(ctx, s.DB, uid); err != nil {
		return nil, err
	}
	if out.RecentLogs, err = repo.RecentModerations(ctx, s.DB, uid, RecentLogsLimit); err != nil {
		return nil, err
	}
	if out.RecentLogs == nil {
		out.RecentLogs = []domain.ModerationRecord{}
	}

	span.SetAttributes(attribute.Int64("total_checks", out.TotalChecks))
	return out, nil
}

// SafetyRate returns the percentage of safe records rounded to 2 decimals,
// or 0 when total is 0.
func SafetyRate(safe, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(safe)/float64(total)*100*100) / 100
}

// dayBounds returns the UTC instants of local midnight starting t's calendar
// date in loc and of the following midnight.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end := time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

func (s *AnalyticsService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AnalyticsService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}
