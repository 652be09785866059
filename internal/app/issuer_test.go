package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumlic/internal/config"
	"quantumlic/internal/infrastructure"
	"quantumlic/internal/issuance"
	"quantumlic/internal/signing"
	"quantumlic/pkg/contracts/domain"
)

const issuerTestFingerprint = "a3f8b2c4d5e6071829a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f708192a3b4c"

// issuerTestConfig returns an issuance-server configuration backed by the
// memory store, with an encrypted keystore created under a temp dir.
func issuerTestConfig(t *testing.T) *config.Config {
	t.Helper()

	_, priv, err := signing.GenerateKeypair()
	require.NoError(t, err)

	keystorePath := filepath.Join(t.TempDir(), "signing_key.enc")
	require.NoError(t, signing.SaveSigningKey(keystorePath, priv, 1, []byte("test-passphrase")))
	t.Setenv("TEST_KEYSTORE_PASSPHRASE", "test-passphrase")

	cfg := config.Default()
	cfg.Signing.KeystorePath = keystorePath
	cfg.Signing.PassphraseEnv = "TEST_KEYSTORE_PASSPHRASE"
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

// newTestIssuer assembles an issuance server around issuerTestConfig without
// opening a listener.
func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()

	logger := discardLogger()
	providers, err := infrastructure.InitializeOTel(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(ctx)
	})

	issuer := &Issuer{
		Config:        issuerTestConfig(t),
		Logger:        logger,
		OTelProviders: providers,
	}
	require.NoError(t, issuer.initializeServices())
	issuer.setupRouter()
	issuer.createServer()
	return issuer
}

func (i *Issuer) allow(t *testing.T, email string, maxSeats int) {
	t.Helper()
	err := i.Stores.Allowlist.Put(context.Background(), &domain.AllowlistEntry{
		IdentityHash: issuance.IdentityHash(email),
		MaxSeats:     maxSeats,
	})
	require.NoError(t, err)
}

func postIssue(t *testing.T, issuer *Issuer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/issue", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	issuer.Router.ServeHTTP(rec, req)
	return rec
}

func TestIssuerRefusesToStartWithoutKeystore(t *testing.T) {
	logger := discardLogger()
	providers, err := infrastructure.InitializeOTel(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	cfg := config.Default()
	cfg.Signing.KeystorePath = filepath.Join(t.TempDir(), "missing.enc")

	issuer := &Issuer{Config: cfg, Logger: logger, OTelProviders: providers}
	err = issuer.initializeServices()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing key")
}

func TestIssuerIssueEndToEnd(t *testing.T) {
	issuer := newTestIssuer(t)
	body := `{"email": "raffi@hotmail.it", "fingerprint_sha256": "` + issuerTestFingerprint + `"}`

	t.Run("denied before allowlisting", func(t *testing.T) {
		rec := postIssue(t, issuer, body)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "allowlist_denied", resp["error"])
	})

	issuer.allow(t, "raffi@hotmail.it", 1)

	var first domain.LicenseRecord
	t.Run("issues once allowlisted", func(t *testing.T) {
		rec := postIssue(t, issuer, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
		assert.NotEmpty(t, first.LicenseID)
		assert.Equal(t, issuerTestFingerprint, first.FingerprintSHA256)
		assert.Equal(t, "quantum_qi", first.Product)
		assert.NotEmpty(t, first.Signature)
		assert.Equal(t, 1, first.KeyVersion)
	})

	t.Run("replays the identical record", func(t *testing.T) {
		rec := postIssue(t, issuer, body)
		require.Equal(t, http.StatusOK, rec.Code)

		var replay domain.LicenseRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
		assert.Equal(t, first.LicenseID, replay.LicenseID)
		assert.Equal(t, first.Signature, replay.Signature)
	})

	t.Run("seat cap blocks a second machine", func(t *testing.T) {
		otherFingerprint := strings.Repeat("b", 64)
		rec := postIssue(t, issuer,
			`{"email": "raffi@hotmail.it", "fingerprint_sha256": "`+otherFingerprint+`"}`)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "seat_limit_exceeded", resp["error"])
	})
}

func TestIssuerRejectsMalformedRequests(t *testing.T) {
	issuer := newTestIssuer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing email", `{"fingerprint_sha256": "` + issuerTestFingerprint + `"}`},
		{"short fingerprint", `{"email": "a@b.it", "fingerprint_sha256": "abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postIssue(t, issuer, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "malformed_request", resp["error"])
		})
	}
}

func TestIssuerHealthAndMetrics(t *testing.T) {
	issuer := newTestIssuer(t)

	for _, path := range []string{"/healthz", "/healthz/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		issuer.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestIssuerRateLimitsIssuance(t *testing.T) {
	logger := discardLogger()
	providers, err := infrastructure.InitializeOTel(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	cfg := issuerTestConfig(t)
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RPS = 1
	cfg.Security.RateLimit.Burst = 1

	issuer := &Issuer{Config: cfg, Logger: logger, OTelProviders: providers}
	require.NoError(t, issuer.initializeServices())
	issuer.setupRouter()

	body := `{"email": "raffi@hotmail.it", "fingerprint_sha256": "` + issuerTestFingerprint + `"}`
	first := postIssue(t, issuer, body)
	assert.Equal(t, http.StatusForbidden, first.Code)

	second := postIssue(t, issuer, body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Probes never rate limit.
	rec := httptest.NewRecorder()
	issuer.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
