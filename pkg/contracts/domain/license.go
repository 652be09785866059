// Package domain contains the core domain models for the QuantumQi trust layer.
// These types serve as the Single Source of Truth (SSOT) for all layers of the
// application: issuance, offline verification, and the token authority.
package domain

// LicenseRecord is a signed, machine-bound license as issued by the licensing
// service and stored verbatim on the client. The signature covers the canonical
// encoding of every other field, so the struct round-trips through JSON without
// reformatting: IssuedAt stays a string and Signature stays hex.
type LicenseRecord struct {
	LicenseID         string   `json:"license_id" validate:"required,uuid4"`
	EmailHash         string   `json:"email_hash" validate:"required,len=64,hexadecimal"`
	FingerprintSHA256 string   `json:"fingerprint_sha256" validate:"required,len=64,hexadecimal"`
	Product           string   `json:"product" validate:"required"`
	IssuedAt          string   `json:"issued_at" validate:"required"`
	Features          []string `json:"features"`
	KeyVersion        int      `json:"key_version,omitempty"`
	Signature         string   `json:"signature,omitempty"`
}

// SigningKeyVersion resolves the public-key version that signed this record.
// Records predating key rotation carry no version field and default to 1.
func (r *LicenseRecord) SigningKeyVersion() int {
	if r.KeyVersion > 0 {
		return r.KeyVersion
	}
	return 1
}

// AllowlistEntry grants an identity a seat quota. Entries are created by an
// operator, are read-only to the issuance service, and are never deleted
// automatically.
type AllowlistEntry struct {
	IdentityHash string `json:"identity_hash" yaml:"identity_hash" validate:"required,len=64,hexadecimal"`
	MaxSeats     int    `json:"max_seats" yaml:"max_seats" validate:"required,min=1"`
}

// IndexEntry maps one (identity, fingerprint) pair to the license that seats
// it. Written exactly once on first successful issuance and never mutated; it
// is what makes reissue idempotent and seat counting possible.
type IndexEntry struct {
	IdentityHash      string `json:"identity_hash"`
	FingerprintSHA256 string `json:"fingerprint_sha256"`
	LicenseID         string `json:"license_id"`
}

// IndexKey builds the index-store key for an (identity, fingerprint) pair.
func IndexKey(identityHash, fingerprintSHA256 string) string {
	return identityHash + "|" + fingerprintSHA256
}

// Key returns the index-store key for this entry.
func (e *IndexEntry) Key() string {
	return IndexKey(e.IdentityHash, e.FingerprintSHA256)
}

// LicenseState is the outcome of offline verification of the local license
// file. States gate feature access; none of them is fatal to the process.
type LicenseState string

const (
	// LicenseStateValid means every check passed: signature, fingerprint
	// binding, and product code.
	LicenseStateValid LicenseState = "valid"
	// LicenseStateMissing means no license file exists at the expected path.
	LicenseStateMissing LicenseState = "missing"
	// LicenseStateInvalid means the file exists but failed a check; see the
	// accompanying reason code.
	LicenseStateInvalid LicenseState = "invalid"
	// LicenseStateError means the file could not be read or parsed at all.
	LicenseStateError LicenseState = "error"
	// LicenseStateActivating is reported while an activation request is in
	// flight against the issuance service.
	LicenseStateActivating LicenseState = "activating"
	// LicenseStateDisabled is reported when license enforcement is switched
	// off in configuration (development builds only).
	LicenseStateDisabled LicenseState = "disabled"
)

// Invalid-state reason codes, mirrored into API responses and logs.
const (
	ReasonSignatureMismatch   = "invalid_signature"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonProductMismatch     = "product_mismatch"
	ReasonMissingSignature    = "missing_signature"
	ReasonUnknownKey          = "unknown_key"
	ReasonInvalidFormat       = "invalid_format"
	ReasonInvalidJSON         = "invalid_json"
	ReasonEmptyFile           = "empty"
	ReasonReadError           = "read_error"
	ReasonNoFingerprint       = "fingerprint_unavailable"
)

// LicenseStatus is the snapshot reported by the license manager to the API
// and WebSocket surfaces.
type LicenseStatus struct {
	State             LicenseState `json:"state"`
	Reason            string       `json:"reason,omitempty"`
	Detail            string       `json:"detail,omitempty"`
	LicenseID         string       `json:"license_id,omitempty"`
	Product           string       `json:"product,omitempty"`
	IssuedAt          string       `json:"issued_at,omitempty"`
	Features          []string     `json:"features,omitempty"`
	KeyVersion        int          `json:"key_version,omitempty"`
	FingerprintSHA256 string       `json:"fingerprint_sha256,omitempty"`
	CheckedAt         string       `json:"checked_at,omitempty"`
}

// Activated reports whether the current state unlocks gated features.
func (s LicenseStatus) Activated() bool {
	return s.State == LicenseStateValid || s.State == LicenseStateDisabled
}
