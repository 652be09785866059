package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	api "quantumlic/pkg/contracts/api/v1"
)

// ActivationError carries the user-facing outcome of a failed activation.
// Code is a stable machine code, Message is displayable, StatusCode is the
// HTTP status to relay.
type ActivationError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation failed (%s): %s", e.Code, e.Message)
}

func activationErr(code, message string, status int) *ActivationError {
	return &ActivationError{Code: code, Message: message, StatusCode: status}
}

// ActivationClient requests license issuance over HTTP. It returns the
// response body verbatim: the signature covers those exact bytes, so they are
// stored without reserialization.
type ActivationClient struct {
	baseURL   string
	issuePath string
	product   string
	client    *http.Client
	logger    *slog.Logger
}

// NewActivationClient builds a client for the issuance endpoint at
// baseURL+issuePath. An empty issuePath defaults to /issue.
func NewActivationClient(baseURL, issuePath, product string, logger *slog.Logger) *ActivationClient {
	if issuePath == "" {
		issuePath = "/issue"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		issuePath: "/" + strings.TrimLeft(issuePath, "/"),
		product:   product,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger.With(slog.String("component", "license_activation")),
	}
}

// Issue posts an issuance request and returns the signed license document
// bytes on 200/201. Denials and server failures come back as *ActivationError.
func (c *ActivationClient) Issue(ctx context.Context, email, fingerprintSHA256 string) ([]byte, error) {
	payload, err := json.Marshal(api.IssueRequest{
		Email:             email,
		FingerprintSHA256: fingerprintSHA256,
		Product:           c.product,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode issue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.issuePath, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "QuantumQi-License-Client/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "issuance request failed", slog.String("error", err.Error()))
		return nil, activationErr("network_error", "Unable to reach license server: "+err.Error(), http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, activationErr("network_error", "Failed to read license server response: "+err.Error(), http.StatusServiceUnavailable)
	}

	c.logger.InfoContext(ctx, "issuance response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return body, nil
	}
	return nil, denialError(resp.StatusCode, body)
}

// denialError translates an issuance error response into a user-facing
// activation error. The server body is {"error": <code>}; unknown codes keep
// a generic message.
func denialError(status int, body []byte) *ActivationError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	detail := payload.Error

	code := "server_error"
	message := "License activation failed."
	switch {
	case status == http.StatusForbidden:
		switch detail {
		case "seat_limit_exceeded":
			code = detail
			message = "Seat limit reached for this email."
		case "allowlist_denied":
			code = detail
			message = "There are currently no seats associated with this email."
		default:
			code = "email_forbidden"
			message = "The use of this email is forbidden."
		}
	case status == http.StatusBadRequest:
		code = "invalid_request"
		if detail != "" {
			code = detail
		}
		message = "Validation error. Check the email and try again."
	case status == http.StatusConflict:
		code = "conflict"
		if detail != "" {
			code = detail
		}
		message = "This device already has an assigned license."
	case status >= http.StatusInternalServerError:
		if detail != "" {
			code = detail
		}
		message = "License server unavailable. Try again shortly."
	}

	if detail != "" && detail != code {
		message = fmt.Sprintf("%s (%s)", message, detail)
	}
	return activationErr(code, message, status)
}
