package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8390, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, DefaultProduct, cfg.License.Product)
	assert.Equal(t, DefaultIssuanceURL, cfg.License.APIBase)
	assert.Equal(t, "/issue", cfg.License.APIPath)
	assert.Equal(t, 60*time.Second, cfg.License.PollInterval)
	assert.False(t, cfg.Security.AllowInsecure)
	assert.False(t, cfg.License.Disable)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantumlic.yaml")
	yaml := `
server:
  port: 9999
store:
  backend: redis
  redis:
    addr: localhost:6379
    db: 3
license:
  product: quantum_qi_pro
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("LONGQ_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.Equal(t, "quantum_qi_pro", cfg.License.Product)

	// Sections the file does not mention keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultIssuanceURL, cfg.License.APIBase)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantumlic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600))
	t.Setenv("LONGQ_CONFIG", path)
	t.Setenv("LONGQ_SERVER_PORT", "7001")
	t.Setenv("LONGQ_LICENSE_API_BASE", "https://license.example.test")
	t.Setenv("LONGQ_LICENSE_POLL_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "https://license.example.test", cfg.License.APIBase)
	assert.Equal(t, 5*time.Minute, cfg.License.PollInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("LONGQ_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("LONGQ_API_TOKEN", "  41a9ef05c3d2b1a09988aabbccdd  ")
	t.Setenv("LONGQ_ALLOW_INSECURE", "yes")
	t.Setenv("LONGQ_LICENSE_DISABLE", "on")
	t.Setenv("LONGQ_PUBLIC_KEY_HEX", "aa01")
	t.Setenv("LONGQ_PUBLIC_KEY_V2", "bb02")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "41a9ef05c3d2b1a09988aabbccdd", cfg.Token.EnvToken)
	assert.True(t, cfg.Security.AllowInsecure)
	assert.True(t, cfg.License.Disable)
	assert.Equal(t, "aa01", cfg.Signing.PublicKeys[1])
	assert.Equal(t, "bb02", cfg.Signing.PublicKeys[2])
}

func TestLoadStructuredPublicKeys(t *testing.T) {
	t.Setenv("LONGQ_SIGNING_PUBLIC_KEYS", "1:aa01,2:bb02")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, map[int]string{1: "aa01", 2: "bb02"}, cfg.Signing.PublicKeys)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = 0 },
			wantErr: "read timeout",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "unknown store backend",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Store.Backend = BackendRedis },
			wantErr: "requires store.redis.addr",
		},
		{
			name: "redis with addr passes",
			mutate: func(c *Config) {
				c.Store.Backend = BackendRedis
				c.Store.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *Config) { c.License.PollInterval = -time.Second },
			wantErr: "poll interval",
		},
		{
			name:    "public key version zero",
			mutate:  func(c *Config) { c.Signing.PublicKeys[0] = "aa" },
			wantErr: "key version must be positive",
		},
		{
			name:    "empty public key",
			mutate:  func(c *Config) { c.Signing.PublicKeys[1] = "" },
			wantErr: "is empty",
		},
		{
			name: "rate limit rps",
			mutate: func(c *Config) {
				c.Security.RateLimit.Enabled = true
				c.Security.RateLimit.RPS = 0
			},
			wantErr: "rps must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCoercesLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8390}
	assert.Equal(t, "0.0.0.0:8390", s.Addr())
}

func TestSigningPassphrase(t *testing.T) {
	t.Setenv("TEST_KEYSTORE_PASS", "hunter2")

	s := SigningConfig{PassphraseEnv: "TEST_KEYSTORE_PASS"}
	assert.Equal(t, []byte("hunter2"), s.Passphrase())

	s.PassphraseEnv = "TEST_KEYSTORE_PASS_UNSET"
	assert.Nil(t, s.Passphrase())

	s.PassphraseEnv = ""
	assert.Nil(t, s.Passphrase())
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on", " On "} {
		assert.True(t, isTruthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "no", "off", "2"} {
		assert.False(t, isTruthy(v), v)
	}
}
