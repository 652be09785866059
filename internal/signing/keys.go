package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// DefaultPublicKeyHex is the version-1 issuance public key baked into every
// client build. Rotations add versions; they never replace this one, so
// licenses signed before a rotation keep verifying.
const DefaultPublicKeyHex = "763f46418ac4ffe0214dbfb766f3b8d8406a7aab0e248519593797c8571b2af9"

// DefaultPublicKeys returns the embedded key set.
func DefaultPublicKeys() map[int]ed25519.PublicKey {
	keys, err := PublicKeysFromHex(map[int]string{1: DefaultPublicKeyHex})
	if err != nil {
		// The embedded constant is validated by tests; failing here means a
		// corrupted build.
		panic(err)
	}
	return keys
}

// PublicKeysFromHex decodes a version-to-hex map, e.g. from configuration,
// validating lengths as it goes.
func PublicKeysFromHex(hexKeys map[int]string) (map[int]ed25519.PublicKey, error) {
	keys := make(map[int]ed25519.PublicKey, len(hexKeys))
	for version, h := range hexKeys {
		if version <= 0 {
			return nil, fmt.Errorf("public key version must be positive, got %d", version)
		}
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("public key version %d: malformed hex: %w", version, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key version %d: length %d, want %d", version, len(raw), ed25519.PublicKeySize)
		}
		keys[version] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
