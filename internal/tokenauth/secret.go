// Package tokenauth implements the backend's bearer-token authority: token
// generation, zero-downtime rotation with a grace window, synchronous disk
// persistence, and the HTTP/WebSocket authentication gates.
package tokenauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// tokenBytes is the entropy of a generated token; hex-encoded it yields 48
// characters.
const tokenBytes = 24

// prefixLen is how much of a token may appear in logs and status payloads.
const prefixLen = 8

// Secret wraps a bearer token so it cannot leak through formatting or
// serialization. The raw value is reachable only through Reveal; everything
// the logging and encoding layers see is redacted.
type Secret struct {
	value string
}

// NewSecret wraps a raw token value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Generate creates a fresh random token.
func Generate() (Secret, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return Secret{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return Secret{value: hex.EncodeToString(buf)}, nil
}

// IsZero reports whether the secret holds no token.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// Reveal returns the raw token. This is the only way to access the value.
func (s Secret) Reveal() string {
	return s.value
}

// Prefix returns the leading characters used to identify a token in logs and
// diagnostics without disclosing it.
func (s Secret) Prefix() string {
	if len(s.value) <= prefixLen {
		return s.value
	}
	return s.value[:prefixLen]
}

// Equal compares the secret to a candidate in constant time.
func (s Secret) Equal(candidate string) bool {
	if s.value == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(candidate)) == 1
}

// String implements fmt.Stringer. Always redacted.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer, covering %#v.
func (s Secret) GoString() string {
	return "tokenauth.Secret{[REDACTED]}"
}

// MarshalJSON keeps the token out of JSON output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalText keeps the token out of text encodings.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// LogValue keeps the token out of slog records; only the prefix is emitted.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED:" + s.Prefix() + "]")
}
