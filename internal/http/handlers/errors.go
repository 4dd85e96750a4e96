// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes give clients a stable,
// machine-readable error taxonomy next to the human-readable message.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics.
//   - Domain-specific codes (e.g., validation_error, upload_failed) cover failures
//     that the status alone does not describe.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_error",
//	  "message": "image file is required for image moderation"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidation       = "validation_error"
	ErrCodeAccountDisabled  = "account_disabled"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeUploadFailed     = "upload_failed"
	ErrCodeModerationFailed = "moderation_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
