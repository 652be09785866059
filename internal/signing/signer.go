// Package signing implements the canonical license encoding and the Ed25519
// operations over it: the issuance service signs canonical bytes, clients
// verify them under embedded public keys. Private keys rest encrypted on disk
// and are only ever held in memory by the issuance service.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"quantumlic/pkg/contracts/domain"
)

const signatureField = "signature"

var (
	// ErrMissingSignature means the record carries no signature field.
	ErrMissingSignature = errors.New("license signature missing")
	// ErrUnknownKey means the record names a key version this build has no
	// public key for.
	ErrUnknownKey = errors.New("no public key for signature key version")
	// ErrBadSignature means the signature did not verify, was malformed hex,
	// or had the wrong length.
	ErrBadSignature = errors.New("license signature invalid")
)

// Signer signs canonical license payloads with one Ed25519 private key,
// stamping records with the key's version so verifiers can pick the matching
// public key after a rotation.
type Signer struct {
	priv       ed25519.PrivateKey
	keyVersion int
}

// NewSigner validates the key and wraps it. keyVersion <= 0 defaults to 1.
func NewSigner(priv ed25519.PrivateKey, keyVersion int) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length: %d", len(priv))
	}
	if keyVersion <= 0 {
		keyVersion = 1
	}
	return &Signer{priv: priv, keyVersion: keyVersion}, nil
}

// KeyVersion returns the version stamped on records this signer produces.
func (s *Signer) KeyVersion() int {
	return s.keyVersion
}

// PublicKey returns the verifying half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Sign signs raw canonical bytes.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

// SignLicense stamps the record with this signer's key version, signs its
// canonical payload, and stores the signature hex-encoded on the record.
func (s *Signer) SignLicense(rec *domain.LicenseRecord) error {
	rec.KeyVersion = s.keyVersion
	payload, err := CanonicalLicensePayload(rec)
	if err != nil {
		return fmt.Errorf("canonicalize license: %w", err)
	}
	rec.Signature = hex.EncodeToString(ed25519.Sign(s.priv, payload))
	return nil
}

// CanonicalLicensePayload renders the signed portion of a record: every field
// except the signature itself, in canonical form.
func CanonicalLicensePayload(rec *domain.LicenseRecord) ([]byte, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return canonicalWithoutSignature(encoded)
}

// canonicalWithoutSignature strips the signature member from a JSON object
// and canonicalizes the remainder. Working on the parsed document rather than
// a typed struct keeps verification agnostic to fields this build does not
// know about, so future issuers can add fields without breaking old clients.
func canonicalWithoutSignature(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	delete(doc, signatureField)
	return Canonicalize(doc)
}

// Verifier checks license signatures against the public keys embedded in the
// build, keyed by version.
type Verifier struct {
	keys map[int]ed25519.PublicKey
}

// NewVerifier wraps a version-to-key map, validating key sizes.
func NewVerifier(keys map[int]ed25519.PublicKey) (*Verifier, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one public key is required")
	}
	for version, key := range keys {
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ed25519 public key length for version %d: %d", version, len(key))
		}
	}
	return &Verifier{keys: keys}, nil
}

// VerifyRaw checks the signature embedded in a raw license document (the
// exact bytes stored on disk). The canonical payload is recomputed from the
// parsed document with the signature member removed.
func (v *Verifier) VerifyRaw(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	sigHex, _ := doc[signatureField].(string)
	if sigHex == "" {
		return ErrMissingSignature
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: malformed hex", ErrBadSignature)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}

	key, ok := v.keys[keyVersionOf(doc)]
	if !ok {
		return fmt.Errorf("%w: version %d", ErrUnknownKey, keyVersionOf(doc))
	}

	delete(doc, signatureField)
	payload, err := Canonicalize(doc)
	if err != nil {
		return fmt.Errorf("canonicalize license: %w", err)
	}
	if !ed25519.Verify(key, payload, sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyLicense checks a typed record by round-tripping it through its JSON
// form, so the result is identical to verifying the stored file.
func (v *Verifier) VerifyLicense(rec *domain.LicenseRecord) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return v.VerifyRaw(encoded)
}

// keyVersionOf reads the key version from a parsed document: pubkey_version
// wins over key_version, absent means version 1. Both spellings exist in the
// field because issued licenses predate the rename.
func keyVersionOf(doc map[string]any) int {
	for _, field := range []string{"pubkey_version", "key_version"} {
		if n, ok := doc[field].(json.Number); ok {
			if version, err := n.Int64(); err == nil && version > 0 {
				return int(version)
			}
		}
	}
	return 1
}
