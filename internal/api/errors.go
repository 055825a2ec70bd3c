// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/inkflow/internal/middleware"
	"github.com/onnwee/inkflow/internal/ratelimit"
	"github.com/onnwee/inkflow/internal/signing"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeExpired indicates the signature request has expired.
	ErrCodeExpired = "request_expired"

	// ErrCodeAlreadySigned indicates the signer has already submitted a signature.
	ErrCodeAlreadySigned = "already_signed"

	// ErrCodeDeclined indicates the signature request has been declined.
	ErrCodeDeclined = "request_declined"

	// ErrCodeNotYourTurn indicates an earlier signer has not signed yet.
	ErrCodeNotYourTurn = "not_your_turn"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
// It writes the appropriate HTTP status code and returns a JSON error body.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code will be automatically logged by the logging middleware
// for all 4xx and 5xx responses if you call SetErrorCode on the context
// and pass the updated context to WriteError.
//
// Example:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Request not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	// Update the context in the response writer if supported (for logging middleware)
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
// This is a convenience function to map error codes to HTTP status codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeAlreadySigned, ErrCodeDeclined:
		return http.StatusConflict
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeExpired:
		return http.StatusGone
	case ErrCodeNotYourTurn:
		return http.StatusForbidden
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFor maps a signing engine error to its API error code. Unknown
// errors map to ErrCodeInternal so handlers never leak internal messages.
func ErrorCodeFor(err error) string {
	switch {
	case errors.Is(err, signing.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, signing.ErrUnauthorized):
		return ErrCodeForbidden
	case errors.Is(err, signing.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, signing.ErrExpired):
		return ErrCodeExpired
	case errors.Is(err, signing.ErrAlreadySigned):
		return ErrCodeAlreadySigned
	case errors.Is(err, signing.ErrDeclined):
		return ErrCodeDeclined
	case errors.Is(err, signing.ErrNotYourTurn):
		return ErrCodeNotYourTurn
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return ErrCodeRateLimited
	default:
		return ErrCodeInternal
	}
}

// WriteEngineError maps err to an API error code and writes the standard
// error response, hiding internal error details from clients.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCodeFor(err)
	message := err.Error()
	if code == ErrCodeInternal {
		message = "An unexpected error occurred"
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}
