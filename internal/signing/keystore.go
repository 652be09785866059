package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/scrypt"

	"quantumlic/internal/files"
)

// Keystore format: the Ed25519 seed encrypted with AES-256-GCM under a key
// derived from the operator passphrase via scrypt. Parameters follow OWASP
// ASVS level 3 minimums.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	keystoreVersion = 1
)

// integrityDomain separates the keystore integrity hash from any other
// SHA-256 use in the system.
const integrityDomain = "QLIC-KEYSTORE-V1"

// Keystore is the on-disk envelope for the encrypted signing key.
type Keystore struct {
	Version    int    `json:"version"`
	KeyVersion int    `json:"key_version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Integrity  []byte `json:"integrity"`
	CreatedAt  int64  `json:"created_at"`
}

// ErrKeystorePassphrase is returned when decryption fails, which with GCM
// means either a wrong passphrase or a tampered file.
var ErrKeystorePassphrase = errors.New("keystore decryption failed: wrong passphrase or corrupted file")

// GenerateKeypair creates a fresh Ed25519 keypair for license signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SaveSigningKey encrypts the private key under the passphrase and writes the
// keystore atomically with owner-only permissions.
func SaveSigningKey(path string, priv ed25519.PrivateKey, keyVersion int, passphrase []byte) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid ed25519 private key length: %d", len(priv))
	}
	if len(passphrase) == 0 {
		return errors.New("keystore passphrase must not be empty")
	}
	if keyVersion <= 0 {
		keyVersion = 1
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := deriveCipher(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// Only the 32-byte seed is stored; the full private key is rederived on
	// load.
	ciphertext := gcm.Seal(nil, nonce, priv.Seed(), nil)

	ks := Keystore{
		Version:    keystoreVersion,
		KeyVersion: keyVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Integrity:  integrityHash(ciphertext, salt, nonce),
		CreatedAt:  time.Now().Unix(),
	}

	encoded, err := json.MarshalIndent(&ks, "", "  ")
	if err != nil {
		return err
	}
	return files.WriteAtomic(path, encoded, 0o600)
}

// LoadSigningKey reads and decrypts the keystore, returning the private key
// and the key version it signs as.
func LoadSigningKey(path string, passphrase []byte) (ed25519.PrivateKey, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read keystore: %w", err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, 0, fmt.Errorf("parse keystore: %w", err)
	}
	if ks.Version != keystoreVersion {
		return nil, 0, fmt.Errorf("unsupported keystore version: %d", ks.Version)
	}
	if subtle.ConstantTimeCompare(ks.Integrity, integrityHash(ks.Ciphertext, ks.Salt, ks.Nonce)) != 1 {
		return nil, 0, errors.New("keystore integrity check failed")
	}

	gcm, err := deriveCipher(passphrase, ks.Salt)
	if err != nil {
		return nil, 0, err
	}

	seed, err := gcm.Open(nil, ks.Nonce, ks.Ciphertext, nil)
	if err != nil {
		return nil, 0, ErrKeystorePassphrase
	}
	if len(seed) != ed25519.SeedSize {
		return nil, 0, fmt.Errorf("keystore holds %d bytes, want %d-byte seed", len(seed), ed25519.SeedSize)
	}

	keyVersion := ks.KeyVersion
	if keyVersion <= 0 {
		keyVersion = 1
	}
	return ed25519.NewKeyFromSeed(seed), keyVersion, nil
}

func deriveCipher(passphrase, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func integrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte(integrityDomain))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
