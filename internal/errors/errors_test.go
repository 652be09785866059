package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "code and message",
			err:      New(http.StatusForbidden, CodeAllowlistDenied, "Identity is not on the allowlist"),
			expected: "allowlist_denied: Identity is not on the allowlist",
		},
		{
			name:     "code only",
			err:      &APIError{StatusCode: http.StatusBadRequest, Code: CodeMalformedRequest},
			expected: "malformed_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAPIError_WireShape(t *testing.T) {
	// The wire body must carry the code under the "error" key and must not
	// leak status code or details.
	apiErr := ErrSeatLimitExceeded.WithDetails("identity abc123 at 1/1 seats")

	data, err := json.Marshal(apiErr)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, "seat_limit_exceeded", body["error"])
	assert.NotContains(t, body, "status_code")
	assert.NotContains(t, body, "details")
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		target  error
		matches bool
	}{
		{
			name:    "same sentinel",
			err:     ErrAllowlistDenied,
			target:  ErrAllowlistDenied,
			matches: true,
		},
		{
			name:    "copy with message still matches",
			err:     ErrSeatLimitExceeded.WithMessage("all 2 seats in use"),
			target:  ErrSeatLimitExceeded,
			matches: true,
		},
		{
			name:    "wrapped sentinel matches",
			err:     fmt.Errorf("issue: %w", ErrAllowlistDenied),
			target:  ErrAllowlistDenied,
			matches: true,
		},
		{
			name:    "different codes do not match",
			err:     ErrAllowlistDenied,
			target:  ErrSeatLimitExceeded,
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, errors.Is(tt.err, tt.target))
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedCode   string
		expectedStatus int
	}{
		{
			name:           "api error passes through",
			err:            ErrAllowlistDenied,
			expectedCode:   CodeAllowlistDenied,
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "wrapped api error unwraps",
			err:            fmt.Errorf("service: %w", ErrSigningFailure),
			expectedCode:   CodeSigningError,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "unknown error collapses to internal",
			err:            errors.New("redis: connection refused"),
			expectedCode:   CodeInternal,
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.expectedCode, apiErr.Code)
			assert.Equal(t, tt.expectedStatus, apiErr.StatusCode)
		})
	}

	assert.Nil(t, FromError(nil))
}

func TestFromError_NeverLeaksInternals(t *testing.T) {
	apiErr := FromError(errors.New("dial tcp 10.0.0.5:6379: connect: connection refused"))

	data, err := json.Marshal(apiErr)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "10.0.0.5")
	assert.Equal(t, "dial tcp 10.0.0.5:6379: connect: connection refused", apiErr.Details)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrUnauthorized)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestMalformedRequestError(t *testing.T) {
	apiErr := MalformedRequestError([]ValidationError{
		{Field: "email", Message: "must be a valid email address"},
		{Field: "fingerprint_sha256", Message: "must be 64 hex characters"},
	})

	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, CodeMalformedRequest, apiErr.Code)

	fields, ok := apiErr.Details.([]ValidationError)
	require.True(t, ok)
	assert.Len(t, fields, 2)
}
