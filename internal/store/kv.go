// Package store persists the issuance service's shared state behind a small
// key-value contract. The backing stores are modeled as eventually consistent
// with no cross-key transactions, which is what drives the issuance service's
// write ordering and its use of conditional puts.
package store

import "context"

// Key namespaces. Every key in the backing store carries one of these
// prefixes so a single Redis database (or a single map in tests) can hold all
// three stores.
const (
	allowlistPrefix = "allow:"
	indexPrefix     = "idx:"
	licensePrefix   = "lic:"
)

// KV is the contract every backend implements. Get reports presence
// explicitly rather than through sentinel errors, and PutIfAbsent is the
// conditional-put primitive that closes the duplicate-issuance race on
// backends that support it natively.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put writes key unconditionally.
	Put(ctx context.Context, key, value string) error
	// PutIfAbsent writes key only if it does not exist yet, reporting
	// whether this call created it.
	PutIfAbsent(ctx context.Context, key, value string) (bool, error)
	// CountPrefix counts the distinct keys starting with prefix.
	CountPrefix(ctx context.Context, prefix string) (int, error)
}
