// Package services – AuthService
//
// This file implements account registration, username/password login, token
// refresh and profile management. Passwords are bcrypt-hashed and sessions
// are stateless JWT access/refresh pairs.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
)

var validate = validator.New()

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
	Role            domain.Role
	Profile         ProfileUpdate
}

// ProfileUpdate is a partial profile patch; nil fields are left unchanged
// and empty strings clear optional fields.
type ProfileUpdate struct {
	Email           *string
	FirstName       *string
	LastName        *string
	Organization    *string
	InstagramHandle *string
	TwitterHandle   *string
	YoutubeChannel  *string
	Website         *string
	PhoneNumber     *string
	Bio             *string
}

// Session is a user together with a freshly issued token pair.
type Session struct {
	User   *domain.User
	Tokens auth.TokenPair
}

// AuthService manages accounts and sessions.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Tokens signs and verifies JWTs.
	Tokens *auth.Tokens
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, tokens *auth.Tokens) *AuthService {
	return &AuthService{DB: db, Tokens: tokens, Now: time.Now}
}

// Register creates an influencer account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(attribute.String("user.username", in.Username)),
	)
	defer span.End()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	switch {
	case in.Username == "":
		return nil, invalid("username is required")
	case validate.Var(in.Username, "max=150,printascii") != nil || strings.ContainsAny(in.Username, " \t"):
		return nil, invalid("username must be at most 150 printable characters without spaces")
	case validate.Var(in.Email, "required,email") != nil:
		return nil, invalid("a valid email is required")
	case in.FirstName == "" || in.LastName == "":
		return nil, invalid("first_name and last_name are required")
	case in.Password != in.PasswordConfirm:
		return nil, invalid("password fields didn't match")
	}
	if in.Role == "" {
		in.Role = domain.RoleInfluencer
	}
	if !in.Role.Valid() {
		return nil, invalid("role must be influencer or admin")
	}
	if in.Role == domain.RoleAdmin {
		return nil, ErrForbidden
	}
	if err := auth.ValidatePassword(in.Password, in.Username, in.Email); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	userTaken, emailTaken, err := repo.UserTaken(ctx, s.DB, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if userTaken || emailTaken {
		return nil, ErrUserExists
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		IsActive:     true,
	}
	applyOptional(u, in.Profile)
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return s.session(u)
}

// Login authenticates by username and password and records the login time.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login",
		trace.WithAttributes(attribute.String("user.username", username)),
	)
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, invalid(`must include "username" and "password"`)
	}
	u, err := repo.GetUserByUsername(ctx, s.DB, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}

	at := s.now()
	if err := repo.TouchLastLogin(ctx, s.DB, u.ID, at); err != nil {
		return nil, err
	}
	u.LastLoginAt = &at
	return s.session(u)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Refresh")
	defer span.End()

	claims, err := s.Tokens.Parse(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := repo.GetUserByID(ctx, s.DB, claims.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}
	return s.session(u)
}

// Profile returns the account for userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUserByID(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// UpdateProfile applies p to userID's account and returns the result. The
// id, username, role and verification flag are not writable here.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, p ProfileUpdate) (*domain.User, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "UpdateProfile",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if p.Website != nil && strings.TrimSpace(*p.Website) != "" &&
		validate.Var(strings.TrimSpace(*p.Website), "url") != nil {
		return nil, invalid("website must be a valid URL")
	}

	fields := map[string]any{}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if validate.Var(email, "required,email") != nil {
			return nil, invalid("a valid email is required")
		}
		fields["email"] = email
	}
	if p.FirstName != nil {
		fields["first_name"] = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*p.LastName)
	}
	for col, v := range map[string]*string{
		"organization":     p.Organization,
		"instagram_handle": p.InstagramHandle,
		"twitter_handle":   p.TwitterHandle,
		"youtube_channel":  p.YoutubeChannel,
		"website":          p.Website,
		"phone_number":     p.PhoneNumber,
		"bio":              p.Bio,
	} {
		if v != nil {
			fields[col] = optional(strings.TrimSpace(*v))
		}
	}
	if err := repo.UpdateUserFields(ctx, s.DB, userID, fields); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrUserNotFound
		case errors.Is(err, repo.ErrDuplicate):
			return nil, ErrUserExists
		}
		return nil, err
	}
	return s.Profile(ctx, userID)
}

// EnsureAdmin creates an admin account unless the username already exists.
// It reports whether an account was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password, email string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	if _, err := repo.GetUserByUsername(ctx, s.DB, username); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	if err := auth.ValidatePassword(password, username, email); err != nil {
		return false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	u := &domain.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		IsVerified:   true,
		IsActive:     true,
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		return false, err
	}
	return true, nil
}

func (s *AuthService) session(u *domain.User) (*Session, error) {
	pair, err := s.Tokens.Issue(*u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Tokens: pair}, nil
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// applyOptional copies the optional profile fields of p onto u.
func applyOptional(u *domain.User, p ProfileUpdate) {
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = optional(strings.TrimSpace(*v))
		}
	}
	set(&u.Organization, p.Organization)
	set(&u.InstagramHandle, p.InstagramHandle)
	set(&u.TwitterHandle, p.TwitterHandle)
	set(&u.YoutubeChannel, p.YoutubeChannel)
	set(&u.Website, p.Website)
	set(&u.PhoneNumber, p.PhoneNumber)
	set(&u.Bio, p.Bio)
}
