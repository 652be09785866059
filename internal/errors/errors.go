package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is a structured API error. Its JSON form is the wire error body:
// {"error": "<code>"} plus an optional human-readable message. StatusCode and
// Details never reach the wire; details are for logs only.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	Details    any    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is allows errors.Is matching against the predefined sentinel values by code.
func (e *APIError) Is(target error) bool {
	var apiErr *APIError
	if errors.As(target, &apiErr) {
		return e.Code == apiErr.Code
	}
	return false
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// WithMessage returns a copy carrying a different human-readable message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{StatusCode: e.StatusCode, Code: e.Code, Message: message, Details: e.Details}
}

// WithDetails returns a copy carrying log-only details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{StatusCode: e.StatusCode, Code: e.Code, Message: e.Message, Details: details}
}

// New creates a new APIError with the given parameters
func New(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Wire error codes. The issuance codes are a published contract shared with
// every client build; they never change meaning.
const (
	CodeMalformedRequest  = "malformed_request"
	CodeAllowlistDenied   = "allowlist_denied"
	CodeSeatLimitExceeded = "seat_limit_exceeded"
	CodeSigningError      = "signing_error"
	CodeStorageError      = "storage_error"
	CodeUnauthorized      = "unauthorized"
	CodeLicenseRequired   = "license_required"
	CodeRateLimited       = "rate_limited"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
	CodeUnavailable       = "service_unavailable"
)

// Predefined errors for the issuance and auth surfaces
var (
	// 400 Bad Request
	ErrMalformedRequest = New(http.StatusBadRequest, CodeMalformedRequest, "Request body is missing or malformed")

	// 401 Unauthorized
	ErrUnauthorized = New(http.StatusUnauthorized, CodeUnauthorized, "Authentication required")

	// 403 Forbidden
	ErrAllowlistDenied   = New(http.StatusForbidden, CodeAllowlistDenied, "Identity is not on the allowlist")
	ErrSeatLimitExceeded = New(http.StatusForbidden, CodeSeatLimitExceeded, "All seats for this identity are in use")
	ErrLicenseRequired   = New(http.StatusForbidden, CodeLicenseRequired, "A valid license is required for this operation")

	// 404 Not Found
	ErrNotFound = New(http.StatusNotFound, CodeNotFound, "Resource not found")

	// 429 Too Many Requests
	ErrRateLimited = New(http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded")

	// 500 Internal Server Error
	ErrSigningFailure = New(http.StatusInternalServerError, CodeSigningError, "License could not be signed")
	ErrStorage        = New(http.StatusInternalServerError, CodeStorageError, "Persistent store operation failed")
	ErrInternalServer = New(http.StatusInternalServerError, CodeInternal, "Internal server error")

	// 503 Service Unavailable
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, CodeUnavailable, "Service temporarily unavailable")
)

// ValidationError describes a single failed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// MalformedRequestError builds the 400 response for a request that failed
// binding or validation, keeping the field breakdown in log-only details.
func MalformedRequestError(fields []ValidationError) *APIError {
	return ErrMalformedRequest.WithDetails(fields)
}

// FromError maps any error to the APIError that should reach the wire.
// Unrecognized errors collapse to a generic 500 so internals never leak.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternalServer.WithDetails(err.Error())
}

// WriteError writes the wire error body directly, for paths that run before
// the render stack is available (middleware, upgrade handshakes).
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(err)
}
