// Package auth issues and verifies the JWT access/refresh pair used by the
// API and hashes account passwords with bcrypt.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Issuer name written into the "iss" claim.
const Issuer = "brandsafe"

var (
	// ErrInvalidToken covers malformed, expired, badly signed or wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the JWT payload. Subject carries the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	Type     TokenType   `json:"typ"`
}

// TokenPair is returned by login, registration and refresh.
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	// Now is swapped in tests.
	Now func() time.Time
}

// NewTokens validates the settings and returns a signer/verifier.
func NewTokens(secret string, accessTTL, refreshTTL time.Duration) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("JWT_SECRET must be at least 16 bytes")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Tokens{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		Now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue mints a fresh access/refresh pair for u.
func (t *Tokens) Issue(u domain.User) (TokenPair, error) {
	now := t.Now()
	access, accessExp, err := t.sign(u, TokenAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(u, TokenRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		Access: access, Refresh: refresh,
		AccessExpiresAt: accessExp, RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *Tokens) sign(u domain.User, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: u.Username,
		Role:     u.Role,
		Type:     typ,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, exp, nil
}

// Parse verifies raw and checks that it is of type want.
func (t *Tokens) Parse(raw string, want TokenType) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Type != want || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}
