// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers. Every failure is an ErrorResponse
// carrying a stable code from errors.go; service errors are translated by
// failErr through the errorMap table.
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "moderation record not found"
//	}
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/brandsafe-backend/internal/http/middleware"
	"github.com/tbourn/brandsafe-backend/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// errorMapping binds a service sentinel to its HTTP rendering. An empty
// message means the error text itself (minus the sentinel prefix) is shown.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMap = []errorMapping{
	{services.ErrValidation, http.StatusBadRequest, ErrCodeValidation, ""},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials"},
	{services.ErrUserInactive, http.StatusForbidden, ErrCodeAccountDisabled, "user account is disabled"},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden, "forbidden"},
	{services.ErrUserExists, http.StatusConflict, ErrCodeConflict, "username or email already registered"},
	{services.ErrRecordNotFound, http.StatusNotFound, ErrCodeNotFound, "moderation record not found"},
	{services.ErrUserNotFound, http.StatusNotFound, ErrCodeNotFound, "user not found"},
	{services.ErrIdempotencyInFlight, http.StatusConflict, ErrCodeConflict, "a request with this Idempotency-Key is still in progress"},
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failErr renders a service error. Errors outside errorMap become an opaque
// 500; the detail only goes to the log.
func failErr(c *gin.Context, err error) {
	for _, m := range errorMap {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = strings.TrimPrefix(err.Error(), m.target.Error()+": ")
		}
		fail(c, m.status, m.code, msg)
		return
	}
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}
