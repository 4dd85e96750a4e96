// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates requests carrying a JWT bearer token. Authenticate
// is lenient: it only annotates the context when a valid access token is
// present, so public routes keep working. RequireAuth and RequireRole guard
// the protected routes. When an AccountLookup is configured the account is
// reloaded on every request, so deactivation and role changes apply before
// the access token expires.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/domain"
)

const (
	ctxKeyUserID   = "userID"
	ctxKeyUserRole = "userRole"
	ctxKeyUsername = "username"
	ctxKeyDisabled = "accountDisabled"
)

// TokenParser verifies a raw token of the wanted type. *auth.Tokens satisfies it.
type TokenParser interface {
	Parse(raw string, want auth.TokenType) (*auth.Claims, error)
}

// AccountLookup loads the account behind a token subject. It returns nil, nil
// when the account no longer exists.
type AccountLookup func(ctx context.Context, userID string) (*domain.User, error)

// Authenticate parses "Authorization: Bearer <access token>" and, when valid,
// stores the subject, username and role in the Gin context. With accounts
// set, the stored role is the account's current one; deleted accounts stay
// anonymous and deactivated ones are flagged for RequireAuth. A failed lookup
// aborts with 500.
func Authenticate(tokens TokenParser, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" || tokens == nil {
			c.Next()
			return
		}
		claims, err := tokens.Parse(raw, auth.TokenAccess)
		if err != nil {
			c.Next()
			return
		}
		role := claims.Role
		if accounts != nil {
			u, err := accounts(c.Request.Context(), claims.Subject)
			switch {
			case err != nil:
				LoggerFrom(c).Error().Err(err).Str("user_id", claims.Subject).Msg("account lookup failed")
				abortJSON(c, http.StatusInternalServerError, "internal_error", "could not verify credentials")
				return
			case u == nil:
				c.Next()
				return
			case !u.IsActive:
				c.Set(ctxKeyDisabled, true)
				c.Next()
				return
			}
			role = u.Role
		}
		c.Set(ctxKeyUserID, claims.Subject)
		c.Set(ctxKeyUsername, claims.Username)
		c.Set(ctxKeyUserRole, string(role))
		c.Next()
	}
}

// RequireAuth rejects requests without an authenticated user with 401, or
// 403 account_disabled when the token belongs to a deactivated account.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ctxKeyDisabled) {
			abortJSON(c, http.StatusForbidden, "account_disabled", "user account is disabled")
			return
		}
		if UserID(c) == "" {
			c.Header("WWW-Authenticate", `Bearer realm="api"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication credentials were not provided or are invalid")
			return
		}
		c.Next()
	}
}

// RequireRole rejects authenticated users lacking role with 403.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserRole(c) != role {
			abortJSON(c, http.StatusForbidden, "forbidden", "insufficient permissions")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's ID, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(ctxKeyUserID)
	return asString(v)
}

// UserRole returns the authenticated user's role, or "".
func UserRole(c *gin.Context) domain.Role {
	v, _ := c.Get(ctxKeyUserRole)
	return domain.Role(asString(v))
}

func bearerToken(h string) string {
	scheme, tok, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// abortJSON writes the standard error envelope.
func abortJSON(c *gin.Context, status int, code, msg string) {
	v, _ := c.Get(requestIDKey)
	rid := asString(v)
	if rid == "" {
		rid = c.Writer.Header().Get(requestIDHeader)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": rid,
		"code":       code,
		"message":    msg,
	})
}
