// Package api contains API contract definitions for the QuantumQi trust layer.
// Version v1 represents the current stable API version.
package api

// Issuance API Requests

// IssueRequest is the body of POST /issue. The fingerprint arrives pre-hashed
// by the client, so the service validates its shape but never recomputes it.
// Product is optional; the issuance policy supplies the default.
type IssueRequest struct {
	Email             string `json:"email" validate:"required,email"`
	FingerprintSHA256 string `json:"fingerprint_sha256" validate:"required,len=64,hexadecimal,lowercase"`
	Product           string `json:"product" validate:"omitempty,min=1,max=64"`
}

// License API Requests

// LicenseActivateRequest asks the backend to activate this machine against
// the issuance service. The fingerprint is computed locally, never supplied
// by the caller.
type LicenseActivateRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Token API Requests

// TokenRotateRequest is the body of POST /auth/token/rotate. Token is
// optional: when empty the authority generates one, when set it installs the
// caller-supplied value (externally coordinated rollovers). GraceSeconds <= 0
// retires the old token immediately.
type TokenRotateRequest struct {
	Token        string  `json:"token" validate:"omitempty,min=16,max=128,hexadecimal"`
	GraceSeconds float64 `json:"grace_seconds"`
	Persist      *bool   `json:"persist,omitempty"`
}

// TokenRenewRequest is the body of POST /auth/token/renew. The authority
// always generates the replacement token itself.
type TokenRenewRequest struct {
	GraceSeconds float64 `json:"grace_seconds"`
}
