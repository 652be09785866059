// Package issuance implements the server side of license issuance: allowlist
// gating, seat enforcement, idempotent reissue, Ed25519 signing, and
// persistence to the KV stores.
//
// The service is stateless per request. All shared state lives in the stores,
// which are treated as eventually consistent with no cross-key transactions;
// the index write uses a conditional put so concurrent duplicate submissions
// converge on a single canonical record.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "quantumlic/internal/errors"
	"quantumlic/internal/signing"
	"quantumlic/internal/store"
	api "quantumlic/pkg/contracts/api/v1"
	"quantumlic/pkg/contracts/domain"
)

// IdentityHash returns the allowlist key for an email address: the hex SHA-256
// of the trimmed, lowercased address. Raw addresses never reach the stores or
// the logs.
func IdentityHash(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Service orchestrates license issuance.
type Service struct {
	stores  *store.Stores
	signer  *signing.Signer
	policy  FeaturePolicy
	logger  *slog.Logger
	metrics *Metrics

	now   func() time.Time
	newID func() string
}

// NewService wires an issuance service. metrics may be nil, which disables
// instrumentation.
func NewService(stores *store.Stores, signer *signing.Signer, policy FeaturePolicy, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stores:  stores,
		signer:  signer,
		policy:  policy,
		logger:  logger.With(slog.String("component", "issuance")),
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Issue handles a single issuance request end to end. The returned bool is
// true when a new license was signed, false when an already-issued record was
// replayed. Replays return the stored record bit for bit; the signature is
// never recomputed.
func (s *Service) Issue(ctx context.Context, req api.IssueRequest) (rec *domain.LicenseRecord, created bool, err error) {
	start := s.now()
	defer func() {
		s.metrics.observe(ctx, s.now().Sub(start), created, err)
	}()

	identity := IdentityHash(req.Email)
	fingerprint := req.FingerprintSHA256
	product := s.policy.ProductCode(req.Product)

	log := s.logger.With(
		slog.String("identity_hash", identity),
		slog.String("fingerprint_sha256", fingerprint),
		slog.String("product", product),
	)

	allow, ok, err := s.stores.Allowlist.Get(ctx, identity)
	if err != nil {
		log.ErrorContext(ctx, "allowlist lookup failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}
	if !ok {
		log.WarnContext(ctx, "issuance denied, identity not allowlisted")
		return nil, false, apierrors.ErrAllowlistDenied
	}

	if rec, ok, err := s.indexedRecord(ctx, log, identity, fingerprint); err != nil || ok {
		return rec, false, err
	}

	seats, err := s.stores.Index.CountSeats(ctx, identity)
	if err != nil {
		log.ErrorContext(ctx, "seat count failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}
	if seats >= allow.MaxSeats {
		log.WarnContext(ctx, "issuance denied, seat limit reached",
			slog.Int("seats", seats),
			slog.Int("max_seats", allow.MaxSeats))
		return nil, false, apierrors.ErrSeatLimitExceeded
	}

	// Re-check the index immediately before signing. A concurrent request
	// for the same pair may have landed since the first lookup; answering
	// from the index here avoids signing a record that would lose the
	// conditional put below.
	if rec, ok, err := s.indexedRecord(ctx, log, identity, fingerprint); err != nil || ok {
		return rec, false, err
	}

	record := &domain.LicenseRecord{
		LicenseID:         s.newID(),
		EmailHash:         identity,
		FingerprintSHA256: fingerprint,
		Product:           product,
		IssuedAt:          s.now().UTC().Format(time.RFC3339),
		Features:          s.policy.Features(product),
	}
	if err := s.signer.SignLicense(record); err != nil {
		log.ErrorContext(ctx, "license signing failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrSigningFailure
	}

	// License before index. A crash between the two writes leaves an
	// unreachable license record, never an index entry without a backing
	// record.
	if err := s.stores.Licenses.Put(ctx, record); err != nil {
		log.ErrorContext(ctx, "license write failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}

	won, err := s.stores.Index.PutIfAbsent(ctx, &domain.IndexEntry{
		IdentityHash:      identity,
		FingerprintSHA256: fingerprint,
		LicenseID:         record.LicenseID,
	})
	if err != nil {
		log.ErrorContext(ctx, "index write failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}
	if !won {
		// A concurrent duplicate indexed this pair first. Its record is
		// the canonical one; ours stays stored but unreachable.
		log.InfoContext(ctx, "concurrent duplicate issuance, replaying indexed record",
			slog.String("orphaned_license_id", record.LicenseID))
		rec, ok, err := s.indexedRecord(ctx, log, identity, fingerprint)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// Index entries are never deleted, so a vanished entry right
			// after a lost conditional put means the backend misbehaved.
			log.ErrorContext(ctx, "index entry missing after lost conditional put")
			return nil, false, apierrors.ErrStorage
		}
		return rec, false, nil
	}

	log.InfoContext(ctx, "license issued",
		slog.String("license_id", record.LicenseID),
		slog.Int("seats_used", seats+1),
		slog.Int("max_seats", allow.MaxSeats))
	return record, true, nil
}

// indexedRecord resolves the (identity, fingerprint) pair through the index to
// its stored license record. ok reports whether the pair is indexed.
func (s *Service) indexedRecord(ctx context.Context, log *slog.Logger, identity, fingerprint string) (*domain.LicenseRecord, bool, error) {
	licenseID, ok, err := s.stores.Index.Get(ctx, identity, fingerprint)
	if err != nil {
		log.ErrorContext(ctx, "index lookup failed", slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}
	if !ok {
		return nil, false, nil
	}

	rec, ok, err := s.stores.Licenses.Get(ctx, licenseID)
	if err != nil {
		log.ErrorContext(ctx, "license fetch failed",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()))
		return nil, false, apierrors.ErrStorage
	}
	if !ok {
		// Writes are ordered license-first, so a reachable index entry
		// without a backing record is store corruption, not a race.
		log.ErrorContext(ctx, "index entry points at missing license record",
			slog.String("license_id", licenseID))
		return nil, false, apierrors.ErrStorage
	}
	return rec, true, nil
}
