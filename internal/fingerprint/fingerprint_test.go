package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlatform returns fixed identity values, with per-component error
// injection for failure-path tests.
type stubPlatform struct {
	uuid    string
	cpu     string
	host    string
	uuidErr error
	cpuErr  error
	hostErr error
	calls   int
}

func (s *stubPlatform) PlatformUUID(ctx context.Context) (string, error) {
	s.calls++
	return s.uuid, s.uuidErr
}

func (s *stubPlatform) CPUModel(ctx context.Context) (string, error) {
	return s.cpu, s.cpuErr
}

func (s *stubPlatform) Hostname() (string, error) {
	return s.host, s.hostErr
}

func testGenerator(p PlatformIdentity) *Generator {
	return NewGeneratorWithPlatform(p, slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError})))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFingerprint_Deterministic(t *testing.T) {
	platform := &stubPlatform{
		uuid: "8C3F9A2E-5D14-4E91-B4A7-0123456789AB",
		cpu:  "Apple M2 Pro",
		host: "daves-macbook",
	}
	gen := testGenerator(platform)

	first, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)

	second, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// The derivation is pinned: SHA-256 over "uuid|cpu|hostname". Clients in
	// other languages compute the same bytes.
	sum := sha256.Sum256([]byte("8C3F9A2E-5D14-4E91-B4A7-0123456789AB|Apple M2 Pro|daves-macbook"))
	assert.Equal(t, hex.EncodeToString(sum[:]), first)
}

func TestFingerprint_ChangesWhenAnyComponentChanges(t *testing.T) {
	base := stubPlatform{
		uuid: "8C3F9A2E-5D14-4E91-B4A7-0123456789AB",
		cpu:  "Apple M2 Pro",
		host: "daves-macbook",
	}

	baseline, err := testGenerator(&base).Fingerprint(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*stubPlatform)
	}{
		{
			name:   "platform uuid rotated by OS reinstall",
			mutate: func(p *stubPlatform) { p.uuid = "11111111-2222-3333-4444-555555555555" },
		},
		{
			name:   "cpu model changed",
			mutate: func(p *stubPlatform) { p.cpu = "Apple M3 Max" },
		},
		{
			name:   "hostname changed",
			mutate: func(p *stubPlatform) { p.host = "daves-new-macbook" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := base
			tt.mutate(&mutated)

			fp, err := testGenerator(&mutated).Fingerprint(context.Background())
			require.NoError(t, err)
			assert.NotEqual(t, baseline, fp)
		})
	}
}

func TestFingerprint_UnavailableOnComponentFailure(t *testing.T) {
	queryErr := errors.New("ioreg: exit status 1")

	tests := []struct {
		name     string
		platform *stubPlatform
	}{
		{
			name:     "platform uuid query fails",
			platform: &stubPlatform{uuidErr: queryErr, cpu: "cpu", host: "host"},
		},
		{
			name:     "cpu model query fails",
			platform: &stubPlatform{uuid: "uuid", cpuErr: queryErr, host: "host"},
		},
		{
			name:     "hostname query fails",
			platform: &stubPlatform{uuid: "uuid", cpu: "cpu", hostErr: queryErr},
		},
		{
			name:     "empty component is as bad as a failed one",
			platform: &stubPlatform{uuid: "uuid", cpu: "   ", host: "host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := testGenerator(tt.platform).Fingerprint(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnavailable)
			// No partial fingerprint may leak out on failure.
			assert.Empty(t, fp)
		})
	}
}

func TestFingerprint_CachesPlatformQueries(t *testing.T) {
	platform := &stubPlatform{uuid: "uuid", cpu: "cpu", host: "host"}
	gen := testGenerator(platform)

	_, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)
	_, err = gen.Fingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, platform.calls, "second call should hit the cache")

	gen.ClearCache()
	_, err = gen.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, platform.calls)
}

func TestFingerprint_FailureIsNotCached(t *testing.T) {
	platform := &stubPlatform{uuidErr: errors.New("boom"), cpu: "cpu", host: "host"}
	gen := testGenerator(platform)

	_, err := gen.Fingerprint(context.Background())
	require.Error(t, err)

	// Recovering platform queries must recover the generator too.
	platform.uuidErr = nil
	platform.uuid = "uuid"

	fp, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.Len(t, fp, 64)
}

func TestMatches(t *testing.T) {
	platform := &stubPlatform{uuid: "uuid", cpu: "cpu", host: "host"}
	gen := testGenerator(platform)

	fp, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)

	ok, err := gen.Matches(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gen.Matches(context.Background(), "b"+fp[1:])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerator_CacheExpiry(t *testing.T) {
	platform := &stubPlatform{uuid: "uuid", cpu: "cpu", host: "host"}
	gen := testGenerator(platform)
	gen.cacheTTL = -time.Second // force immediate expiry

	_, err := gen.Fingerprint(context.Background())
	require.NoError(t, err)
	_, err = gen.Fingerprint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, platform.calls)
}
