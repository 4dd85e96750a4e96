// Package services defines the business logic for moderation, analytics and
// accounts. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller input that failed validation. It is always
	// wrapped with a human-readable detail; use errors.Is to detect it.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned when a username/password pair or a
	// refresh token does not authenticate.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists is returned when registering a username or email that is
	// already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrUserInactive is returned when a disabled account tries to log in or
	// refresh its tokens.
	ErrUserInactive = errors.New("user account is disabled")

	// ErrUserNotFound indicates that the requested account does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRecordNotFound indicates that the moderation record does not exist
	// or is not visible to the caller.
	ErrRecordNotFound = errors.New("moderation record not found")

	// ErrForbidden is returned when the caller lacks the role for an action.
	ErrForbidden = errors.New("forbidden")

	// ErrIdempotencyInFlight is returned by Reserve while another request
	// holds the same Idempotency-Key.
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")
)

// invalid wraps ErrValidation with a formatted detail.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
