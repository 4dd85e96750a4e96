package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
)

// newTestDB opens a per-test in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, username string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{
		ID: id, Username: username, Email: username + "@example.com",
		PasswordHash: "x", Role: role, IsActive: true,
	}
	if err := repo.CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

// seedRecord inserts a finalized record with a fixed creation time.
func seedRecord(t *testing.T, db *gorm.DB, id, userID string, kind domain.InputKind, res domain.Verdict, risk domain.RiskLevel, at time.Time) {
	t.Helper()
	v := "content"
	r := &domain.ModerationRecord{
		ID: id, UserID: userID, InputType: kind, Result: res,
		InputValue: &v, FlagsDetected: []string{},
		CreatedAt: at.UTC(), UpdatedAt: at.UTC(),
	}
	if risk != "" {
		rl, c := risk, 0.9
		r.RiskLevel, r.ConfidenceScore = &rl, &c
	}
	if err := db.Omit("User").Create(r).Error; err != nil {
		t.Fatalf("seed record %s: %v", id, err)
	}
}
