// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// CreateUser inserts u, assigning an ID when empty. Unique violations on
// username or email surface as ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleInfluencer
	}
	u.CreatedAt, u.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUserByID fetches a user or returns ErrNotFound.
func GetUserByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by exact username or returns ErrNotFound.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserTaken reports whether the username or email (case-insensitive) is
// already registered.
func UserTaken(ctx context.Context, db *gorm.DB, username, email string) (usernameTaken, emailTaken bool, err error) {
	var n int64
	if err = db.WithContext(ctx).Model(&domain.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return false, false, err
	}
	usernameTaken = n > 0
	if err = db.WithContext(ctx).Model(&domain.User{}).Where("LOWER(email) = ?", strings.ToLower(email)).Count(&n).Error; err != nil {
		return false, false, err
	}
	emailTaken = n > 0
	return usernameTaken, emailTaken, nil
}

// TouchLastLogin records a successful login at t.
func TouchLastLogin(ctx context.Context, db *gorm.DB, id string, t time.Time) error {
	at := t.UTC()
	return db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).
		Updates(map[string]any{"last_login_at": &at, "updated_at": at}).Error
}

// UpdateUserFields applies a column -> value patch to user id. Returns
// ErrNotFound if no such user exists.
func UpdateUserFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		_, err := GetUserByID(ctx, db, id)
		return err
	}
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
