// Package verifier implements client-side offline license verification and
// the surrounding lifecycle: the on-disk license file, activation against the
// issuance service, and a cached manager that the API surface consults.
//
// Verification needs no network. It checks the embedded signature, the
// machine binding, and the product code against local facts only, so it is
// safe to run on every start and on a timer.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"quantumlic/internal/fingerprint"
	"quantumlic/internal/signing"
	"quantumlic/pkg/contracts/domain"
)

// Verifier performs the offline checks against a stored license document.
// It never mutates the file and holds no state between calls, so concurrent
// verifications are safe.
type Verifier struct {
	signatures  *signing.Verifier
	fingerprint *fingerprint.Generator
	product     string
	logger      *slog.Logger

	now func() time.Time
}

// New builds a Verifier. product is the code every accepted license must
// carry.
func New(signatures *signing.Verifier, gen *fingerprint.Generator, product string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		signatures:  signatures,
		fingerprint: gen,
		product:     product,
		logger:      logger.With(slog.String("component", "license_verifier")),
		now:         time.Now,
	}
}

// VerifyFile checks the license document at path. A missing file is a state,
// not an error; nothing here is fatal to the caller.
func (v *Verifier) VerifyFile(ctx context.Context, path string) domain.LicenseStatus {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		v.logger.InfoContext(ctx, "license file not found", slog.String("path", path))
		return v.status(domain.LicenseStateMissing, "", "License file not found.")
	}
	if err != nil {
		v.logger.ErrorContext(ctx, "license file unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return v.status(domain.LicenseStateError, domain.ReasonReadError, "Unable to read license file: "+err.Error())
	}
	return v.VerifyBytes(ctx, raw)
}

// VerifyBytes runs the full offline check on a raw license document, in
// order: shape, signature, machine binding, product code.
func (v *Verifier) VerifyBytes(ctx context.Context, raw []byte) domain.LicenseStatus {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		v.logger.WarnContext(ctx, "license file empty")
		return v.status(domain.LicenseStateInvalid, domain.ReasonEmptyFile, "License file empty.")
	}

	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		v.logger.WarnContext(ctx, "license file is not valid JSON")
		return v.status(domain.LicenseStateError, domain.ReasonInvalidJSON, "License file corrupted.")
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		v.logger.WarnContext(ctx, "license document is not an object")
		return v.status(domain.LicenseStateInvalid, domain.ReasonInvalidFormat, "License structure invalid.")
	}

	if err := v.signatures.VerifyRaw([]byte(trimmed)); err != nil {
		reason := signatureReason(err)
		v.logger.WarnContext(ctx, "license signature check failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		st := v.status(domain.LicenseStateInvalid, reason, "License signature verification failed.")
		summarize(&st, fields)
		return st
	}

	local, err := v.fingerprint.Fingerprint(ctx)
	if err != nil {
		v.logger.ErrorContext(ctx, "machine fingerprint unavailable", slog.String("error", err.Error()))
		return v.status(domain.LicenseStateError, domain.ReasonNoFingerprint, "Machine fingerprint unavailable.")
	}
	recorded, _ := fields["fingerprint_sha256"].(string)
	if recorded != local {
		v.logger.WarnContext(ctx, "license bound to a different machine",
			slog.String("recorded", recorded),
			slog.String("current", local))
		st := v.status(domain.LicenseStateInvalid, domain.ReasonFingerprintMismatch, "License fingerprint does not match this device.")
		summarize(&st, fields)
		st.FingerprintSHA256 = local
		return st
	}

	product, _ := fields["product"].(string)
	if product != v.product {
		v.logger.WarnContext(ctx, "license product mismatch",
			slog.String("recorded", product),
			slog.String("expected", v.product))
		st := v.status(domain.LicenseStateInvalid, domain.ReasonProductMismatch, "License product mismatch.")
		summarize(&st, fields)
		st.FingerprintSHA256 = local
		return st
	}

	st := v.status(domain.LicenseStateValid, "", "")
	summarize(&st, fields)
	st.FingerprintSHA256 = local
	v.logger.InfoContext(ctx, "license verified", slog.String("license_id", st.LicenseID))
	return st
}

func (v *Verifier) status(state domain.LicenseState, reason, detail string) domain.LicenseStatus {
	return domain.LicenseStatus{
		State:     state,
		Reason:    reason,
		Detail:    detail,
		CheckedAt: v.now().UTC().Format(time.RFC3339),
	}
}

// signatureReason maps a signature-check error onto a stable reason code.
func signatureReason(err error) string {
	switch {
	case errors.Is(err, signing.ErrMissingSignature):
		return domain.ReasonMissingSignature
	case errors.Is(err, signing.ErrUnknownKey):
		return domain.ReasonUnknownKey
	case errors.Is(err, signing.ErrBadSignature):
		return domain.ReasonSignatureMismatch
	default:
		return domain.ReasonInvalidFormat
	}
}

// summarize copies the displayable license fields into a status. The document
// has already passed the shape check, so missing or oddly typed members just
// leave their field empty.
func summarize(st *domain.LicenseStatus, fields map[string]any) {
	st.LicenseID, _ = fields["license_id"].(string)
	st.Product, _ = fields["product"].(string)
	st.IssuedAt, _ = fields["issued_at"].(string)
	st.FingerprintSHA256, _ = fields["fingerprint_sha256"].(string)
	if n, ok := fields["key_version"].(float64); ok && n > 0 {
		st.KeyVersion = int(n)
	}
	if raw, ok := fields["features"].([]any); ok {
		features := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				features = append(features, s)
			}
		}
		st.Features = features
	}
}
