// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for POST endpoints.
//
// A row with an empty RecordID is a reservation: the first request holding
// the key is still running. BindIdempotency attaches the result once it
// exists and ReleaseIdempotency drops a reservation whose request failed.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// GetIdempotency returns a non-expired record for (userID, scope, key) or
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND expires_at > ?", userID, scope, key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, recordID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		Scope:     scope,
		Key:       key,
		RecordID:  recordID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose TTL elapsed before now and
// returns how many rows were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// BindIdempotency attaches recordID to the reservation for (userID, scope,
// key) and extends it to ttl. It returns ErrNotFound when no unbound
// reservation exists.
func BindIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key, recordID string, status int, ttl time.Duration) error {
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("user_id = ? AND scope = ? AND key = ? AND record_id = ''", userID, scope, key).
		Updates(map[string]any{
			"record_id":  recordID,
			"status":     status,
			"expires_at": time.Now().UTC().Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency deletes the unbound reservation for (userID, scope,
// key). Bound keys are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND record_id = ''", userID, scope, key).
		Delete(&domain.Idempotency{}).Error
}

// DeleteExpiredIdempotencyKey removes the row for (userID, scope, key) if it
// expired before now, freeing the key for reuse ahead of the janitor.
func DeleteExpiredIdempotencyKey(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND key = ? AND expires_at <= ?", userID, scope, key, now.UTC()).
		Delete(&domain.Idempotency{})
	return res.RowsAffected > 0, res.Error
}
