package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete configuration for both binaries: license-server
// reads the Server, Store, Signing and Security sections, quantumd reads
// Server, Security, License and Token. Shared sections (Logging,
// Observability) apply to both.
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Security      SecurityConfig      `yaml:"security" envconfig:"SECURITY"`
	License       LicenseConfig       `yaml:"license" envconfig:"LICENSE"`
	Signing       SigningConfig       `yaml:"signing" envconfig:"SIGNING"`
	Store         StoreConfig         `yaml:"store" envconfig:"STORE"`
	Token         TokenConfig         `yaml:"token" envconfig:"TOKEN"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains authentication and surface-hardening settings.
type SecurityConfig struct {
	// AllowInsecure disables bearer-token enforcement on the API surface.
	// Local development only; every admitted request is logged loudly.
	AllowInsecure  bool            `yaml:"allow_insecure" envconfig:"ALLOW_INSECURE"`
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LicenseConfig drives the client-side verifier and activation flow. The
// env names under LONGQ_LICENSE_* match the ones the desktop launcher has
// always set, so existing installs keep working.
type LicenseConfig struct {
	Vendor       string        `yaml:"vendor" envconfig:"VENDOR"`
	AppName      string        `yaml:"app_name" envconfig:"APP_NAME"`
	Product      string        `yaml:"product" envconfig:"PRODUCT"`
	APIBase      string        `yaml:"api_base" envconfig:"API_BASE"`
	APIPath      string        `yaml:"api_path" envconfig:"API_PATH"`
	Dir          string        `yaml:"dir" envconfig:"DIR"`
	Path         string        `yaml:"path" envconfig:"PATH"`
	// Disable is bound by applyLegacyEnv, not envconfig: the launcher
	// exports LONGQ_LICENSE_DISABLE with values like "yes" that
	// strconv.ParseBool rejects.
	Disable      bool          `yaml:"disable" ignored:"true"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
}

// SigningConfig locates the issuance service's signing key and the public
// keys verifiers trust, indexed by key version.
type SigningConfig struct {
	KeystorePath  string         `yaml:"keystore_path" envconfig:"KEYSTORE_PATH"`
	PassphraseEnv string         `yaml:"passphrase_env" envconfig:"PASSPHRASE_ENV"`
	PublicKeys    map[int]string `yaml:"public_keys" envconfig:"PUBLIC_KEYS"`
}

// Passphrase resolves the keystore passphrase from the configured
// environment variable. The passphrase itself never lives in config files.
func (s SigningConfig) Passphrase() []byte {
	if s.PassphraseEnv == "" {
		return nil
	}
	v := os.Getenv(s.PassphraseEnv)
	if v == "" {
		return nil
	}
	return []byte(v)
}

// StoreConfig selects the issuance service's KV backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend" envconfig:"BACKEND"`
	Redis   RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// TokenConfig contains bearer-token authority settings. EnvToken seeds the
// first boot from LONGQ_API_TOKEN and is never read from config files.
type TokenConfig struct {
	Path     string `yaml:"path" envconfig:"PATH"`
	EnvToken string `yaml:"-" ignored:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ObservabilityConfig controls OpenTelemetry initialization.
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing  bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
}

// Load resolves the configuration: defaults, then the optional YAML file,
// then LONGQ_* environment variables, then the handful of bare legacy env
// names. Defaults live in Default() rather than envconfig tags so an unset
// env var never clobbers a value the YAML file supplied.
func Load() (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile unmarshals a YAML config file over cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file that exists: the explicit
// LONGQ_CONFIG path, then the well-known locations.
func findConfigFile() string {
	if path := os.Getenv("LONGQ_CONFIG"); path != "" {
		return path
	}
	for _, location := range []string{"quantumlic.yaml", "configs/quantumlic.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// applyLegacyEnv maps the original product's bare env names onto their
// config fields. These predate the LONGQ_<SECTION>_<FIELD> scheme and are
// still what the desktop launcher exports.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("LONGQ_API_TOKEN"); v != "" {
		cfg.Token.EnvToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("LONGQ_ALLOW_INSECURE"); v != "" {
		cfg.Security.AllowInsecure = isTruthy(v)
	}
	if v := os.Getenv("LONGQ_LICENSE_DISABLE"); v != "" {
		cfg.License.Disable = isTruthy(v)
	}
	if cfg.Signing.PublicKeys == nil {
		cfg.Signing.PublicKeys = map[int]string{}
	}
	if v := os.Getenv("LONGQ_PUBLIC_KEY_HEX"); v != "" {
		cfg.Signing.PublicKeys[1] = strings.TrimSpace(v)
	}
	if v := os.Getenv("LONGQ_PUBLIC_KEY_V2"); v != "" {
		cfg.Signing.PublicKeys[2] = strings.TrimSpace(v)
	}
}

// isTruthy mirrors the launcher's boolean parsing: 1/true/yes/on.
func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store backend %q requires store.redis.addr", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.License.PollInterval < 0 {
		return fmt.Errorf("license poll interval cannot be negative")
	}
	for version, key := range c.Signing.PublicKeys {
		if version <= 0 {
			return fmt.Errorf("public key version must be positive, got %d", version)
		}
		if key == "" {
			return fmt.Errorf("public key for version %d is empty", version)
		}
	}

	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive")
		}
		if c.Security.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	// Log shippers parse JSON; other formats silently fall back to it.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8390,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowInsecure:  false,
			AllowedOrigins: []string{"http://localhost:8390"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		License: LicenseConfig{
			Vendor:       DefaultVendor,
			AppName:      DefaultAppName,
			Product:      DefaultProduct,
			APIBase:      DefaultIssuanceURL,
			APIPath:      "/issue",
			PollInterval: 60 * time.Second,
		},
		Signing: SigningConfig{
			KeystorePath:  "signing_key.enc",
			PassphraseEnv: "LONGQ_KEYSTORE_PASSPHRASE",
			PublicKeys:    map[int]string{},
		},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/quantumlic.log",
		},
		Observability: ObservabilityConfig{
			ServiceName:    "quantumlic",
			Environment:    "production",
			EnableTracing:  false,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}
