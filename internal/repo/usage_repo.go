// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores per-request API usage rows.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// CreateAPIUsage inserts one usage row.
func CreateAPIUsage(ctx context.Context, db *gorm.DB, u *domain.APIUsageLog) error {
	return db.WithContext(ctx).Omit("User").Create(u).Error
}

// EndpointCount is the number of calls made to one endpoint.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Count    int64  `json:"count"`
}

// TopEndpoints returns the most called endpoints since from, busiest first.
// An empty userID covers every user.
func TopEndpoints(ctx context.Context, db *gorm.DB, userID string, from time.Time, limit int) ([]EndpointCount, error) {
	q := db.WithContext(ctx).Model(&domain.APIUsageLog{}).Where("created_at >= ?", from.UTC())
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []EndpointCount
	err := q.Select("endpoint, method, COUNT(*) AS count").
		Group("endpoint, method").
		Order("count DESC, endpoint ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// PurgeAPIUsage deletes rows created before cutoff and returns how many.
func PurgeAPIUsage(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&domain.APIUsageLog{})
	return res.RowsAffected, res.Error
}
