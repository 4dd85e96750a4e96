// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the
// analytics dashboard and the conditional-response (ETag) metadata used by
// the HTTP layer. Each function is context-aware and scoped to one user, or
// to every user when userID is empty.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

type groupCount struct {
	Label string
	Count int64
}

func countBy(ctx context.Context, db *gorm.DB, userID, column string, skipNull bool) (map[string]int64, error) {
	q := scoped(db.WithContext(ctx).Model(&domain.ModerationRecord{}), userID)
	if skipNull {
		q = q.Where(column + " IS NOT NULL")
	}
	var rows []groupCount
	if err := q.Select(column + " AS label, COUNT(*) AS count").Group(column).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}

// CountByResult returns the number of records per verdict.
func CountByResult(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	return countBy(ctx, db, userID, "result", false)
}

// CountByRisk returns the number of records per non-null risk level.
func CountByRisk(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	return countBy(ctx, db, userID, "risk_level", true)
}

// CountByInputType returns the number of records per input type.
func CountByInputType(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	return countBy(ctx, db, userID, "input_type", false)
}

// CountCreatedBetween counts records with from <= created_at < to. A zero to
// leaves the range open-ended.
func CountCreatedBetween(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) (int64, error) {
	q := scoped(db.WithContext(ctx).Model(&domain.ModerationRecord{}), userID).
		Where("created_at >= ?", from.UTC())
	if !to.IsZero() {
		q = q.Where("created_at < ?", to.UTC())
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// RecentModerations returns up to limit records, newest first.
func RecentModerations(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.ModerationRecord, error) {
	return ListModerationsPage(ctx, db, userID, 0, limit)
}

// HistoryStats returns aggregate metadata for a user's records: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the user has no records, the returned count is 0 and maxUpdatedAt is
// nil.
func HistoryStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := scoped(db.WithContext(ctx).Model(&domain.ModerationRecord{}), userID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = scoped(db.WithContext(ctx).Model(&domain.ModerationRecord{}), userID).
		Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
