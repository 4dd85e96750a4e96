package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: nowUTC,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func strp(s string) *string { return &s }

// seedRecord inserts a finalized record directly, bypassing CreateModeration
// so tests control timestamps.
func seedRecord(t *testing.T, db *gorm.DB, id, userID string, kind domain.InputKind, res domain.Verdict, risk domain.RiskLevel, at time.Time) *domain.ModerationRecord {
	t.Helper()
	r := &domain.ModerationRecord{
		ID: id, UserID: userID, InputType: kind, Result: res,
		InputValue: strp("v"), FlagsDetected: []string{},
		CreatedAt: at.UTC(), UpdatedAt: at.UTC(),
	}
	if risk != "" {
		rl := risk
		c := 0.9
		r.RiskLevel, r.ConfidenceScore = &rl, &c
	}
	if err := db.Omit("User").Create(r).Error; err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return r
}
