package store

import (
	"context"
	"encoding/json"
	"fmt"

	"quantumlic/pkg/contracts/domain"
)

// Stores bundles the three typed stores over one KV backend.
type Stores struct {
	Allowlist *AllowlistStore
	Index     *IndexStore
	Licenses  *LicenseStore
}

// NewStores wraps a backend with the typed store layer.
func NewStores(kv KV) *Stores {
	return &Stores{
		Allowlist: &AllowlistStore{kv: kv},
		Index:     &IndexStore{kv: kv},
		Licenses:  &LicenseStore{kv: kv},
	}
}

// AllowlistStore maps identity hashes to seat quotas. Entries are written by
// operator tooling and only ever read by the issuance service.
type AllowlistStore struct {
	kv KV
}

func (s *AllowlistStore) Get(ctx context.Context, identityHash string) (*domain.AllowlistEntry, bool, error) {
	raw, ok, err := s.kv.Get(ctx, allowlistPrefix+identityHash)
	if err != nil || !ok {
		return nil, false, err
	}
	var entry domain.AllowlistEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, fmt.Errorf("corrupt allowlist entry %s: %w", identityHash, err)
	}
	return &entry, true, nil
}

func (s *AllowlistStore) Put(ctx context.Context, entry *domain.AllowlistEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, allowlistPrefix+entry.IdentityHash, string(raw))
}

// IndexStore maps (identity, fingerprint) pairs to license IDs. Its key shape
// doubles as the seat counter: counting keys under an identity's prefix
// counts that identity's occupied seats.
type IndexStore struct {
	kv KV
}

func (s *IndexStore) Get(ctx context.Context, identityHash, fingerprintSHA256 string) (string, bool, error) {
	return s.kv.Get(ctx, indexPrefix+domain.IndexKey(identityHash, fingerprintSHA256))
}

// PutIfAbsent writes the index entry unless the pair is already seated,
// reporting whether this call created it. Losing this write is how a
// concurrent duplicate issuance discovers the winner.
func (s *IndexStore) PutIfAbsent(ctx context.Context, entry *domain.IndexEntry) (bool, error) {
	return s.kv.PutIfAbsent(ctx, indexPrefix+entry.Key(), entry.LicenseID)
}

// CountSeats counts the distinct fingerprints already seated for an identity.
func (s *IndexStore) CountSeats(ctx context.Context, identityHash string) (int, error) {
	return s.kv.CountPrefix(ctx, indexPrefix+identityHash+"|")
}

// LicenseStore maps license IDs to signed records, stored as the exact wire
// JSON so a reissued record is byte-for-byte what was first issued.
type LicenseStore struct {
	kv KV
}

func (s *LicenseStore) Get(ctx context.Context, licenseID string) (*domain.LicenseRecord, bool, error) {
	raw, ok, err := s.kv.Get(ctx, licensePrefix+licenseID)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec domain.LicenseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("corrupt license record %s: %w", licenseID, err)
	}
	return &rec, true, nil
}

func (s *LicenseStore) Put(ctx context.Context, rec *domain.LicenseRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, licensePrefix+rec.LicenseID, string(raw))
}
