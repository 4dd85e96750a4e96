// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ModerationRecord model.
//
// Records are inserted pending and finalized exactly once. The terminal
// update is guarded by "result = 'pending'" so a second writer cannot
// overwrite a verdict.
//
// Functions:
//
//   - CreateModeration(ctx, db, rec) -> error
//   - FinalizeModeration(ctx, db, id, fin) -> error (ErrNotPending if already final)
//   - GetModeration(ctx, db, id, userID) -> *domain.ModerationRecord, error
//   - CountModerations(ctx, db, userID) -> int64, error
//   - ListModerationsPage(ctx, db, userID, offset, limit) -> []domain.ModerationRecord, error
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// ErrNotPending is returned when a finalization targets a record that already
// carries a terminal verdict (or does not exist).
var ErrNotPending = errors.New("moderation record is not pending")

// Finalization is the terminal write applied to a pending record.
type Finalization struct {
	Result           domain.Verdict
	RiskLevel        *domain.RiskLevel
	ConfidenceScore  *float64
	Flags            []string
	ProcessingTimeMs int64
}

// CreateModeration inserts rec as a pending record. ID and timestamps are
// assigned here; any verdict fields on rec are reset.
func CreateModeration(ctx context.Context, db *gorm.DB, rec *domain.ModerationRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Result = domain.VerdictPending
	rec.RiskLevel = nil
	rec.ConfidenceScore = nil
	rec.ProcessingTimeMs = nil
	rec.FlagsDetected = datatypes.JSONSlice[string]{}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return db.WithContext(ctx).Omit("User").Create(rec).Error
}

// FinalizeModeration writes the terminal verdict for a pending record. It
// returns ErrNotPending when no pending row with id exists.
func FinalizeModeration(ctx context.Context, db *gorm.DB, id string, fin Finalization) error {
	flags := fin.Flags
	if flags == nil {
		flags = []string{}
	}
	res := db.WithContext(ctx).
		Model(&domain.ModerationRecord{}).
		Where("id = ? AND result = ?", id, domain.VerdictPending).
		Updates(map[string]any{
			"result":             fin.Result,
			"risk_level":         fin.RiskLevel,
			"confidence_score":   fin.ConfidenceScore,
			"flags_detected":     datatypes.JSONSlice[string](flags),
			"processing_time_ms": fin.ProcessingTimeMs,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// GetModeration fetches a record and its owner by id. A non-empty userID
// restricts the lookup to that owner. Missing rows yield ErrNotFound.
func GetModeration(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ModerationRecord, error) {
	var r domain.ModerationRecord
	err := scoped(db.WithContext(ctx), userID).
		Preload("User").
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountModerations returns how many records userID owns.
func CountModerations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := scoped(db.WithContext(ctx).Model(&domain.ModerationRecord{}), userID).
		Count(&total).Error
	return total, err
}

// ListModerationsPage returns a newest-first page of userID's records with
// their owners. Use CountModerations for pagination metadata.
func ListModerationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ModerationRecord, error) {
	var out []domain.ModerationRecord
	err := scoped(db.WithContext(ctx), userID).
		Preload("User").
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// scoped restricts q to userID's rows; an empty userID means every user.
func scoped(q *gorm.DB, userID string) *gorm.DB {
	if userID == "" {
		return q
	}
	return q.Where("user_id = ?", userID)
}
