// Package fingerprint derives the stable per-machine identifier that licenses
// are bound to. The identifier is SHA-256 over three ordered facts about the
// machine: platform UUID, CPU model string, and hostname, joined with "|".
// The same machine always produces the same value; reinstalling the OS (which
// rotates the platform UUID) produces a new one.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned when any machine-identity query fails. Callers
// must treat this as fatal to activation: there is no weaker fallback
// fingerprint, because a guessable fingerprint would break the machine
// binding the license scheme depends on.
var ErrUnavailable = errors.New("machine fingerprint unavailable")

const componentDelimiter = "|"

// PlatformIdentity supplies the three machine-identity facts the fingerprint
// is derived from. One implementation exists per target OS, selected at
// compile time.
type PlatformIdentity interface {
	PlatformUUID(ctx context.Context) (string, error)
	CPUModel(ctx context.Context) (string, error)
	Hostname() (string, error)
}

// Generator computes and caches the machine fingerprint. Identity queries
// shell out on darwin and windows, so results are cached; machine identity
// does not change while the process runs.
type Generator struct {
	platform PlatformIdentity
	logger   *slog.Logger

	mu          sync.RWMutex
	cached      string
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewGenerator creates a Generator backed by the identity source for the OS
// this binary was compiled for.
func NewGenerator(logger *slog.Logger) *Generator {
	return NewGeneratorWithPlatform(newPlatformIdentity(), logger)
}

// NewGeneratorWithPlatform creates a Generator with an explicit identity
// source. Tests use this to inject deterministic or failing platforms.
func NewGeneratorWithPlatform(platform PlatformIdentity, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		platform: platform,
		logger:   logger.With(slog.String("component", "fingerprint")),
		cacheTTL: time.Hour,
	}
}

// Fingerprint returns the machine fingerprint as 64 lowercase hex characters.
// Any failing identity query fails the whole derivation with ErrUnavailable;
// partial fingerprints are never produced.
func (g *Generator) Fingerprint(ctx context.Context) (string, error) {
	g.mu.RLock()
	if g.cached != "" && time.Now().Before(g.cacheExpiry) {
		cached := g.cached
		g.mu.RUnlock()
		return cached, nil
	}
	g.mu.RUnlock()

	start := time.Now()

	components, err := g.collect(ctx)
	if err != nil {
		return "", err
	}

	combined := strings.Join(components, componentDelimiter)
	sum := sha256.Sum256([]byte(combined))
	fp := hex.EncodeToString(sum[:])

	g.mu.Lock()
	g.cached = fp
	g.cacheExpiry = time.Now().Add(g.cacheTTL)
	g.mu.Unlock()

	g.logger.Debug("fingerprint generated",
		slog.String("fingerprint", fp),
		slog.Duration("duration", time.Since(start)),
	)

	return fp, nil
}

// collect gathers the ordered identity components. Raw component values stay
// out of logs; only which query failed is recorded.
func (g *Generator) collect(ctx context.Context) ([]string, error) {
	uuid, err := g.platform.PlatformUUID(ctx)
	if err != nil {
		return nil, g.unavailable("platform_uuid", err)
	}

	cpu, err := g.platform.CPUModel(ctx)
	if err != nil {
		return nil, g.unavailable("cpu_model", err)
	}

	host, err := g.platform.Hostname()
	if err != nil {
		return nil, g.unavailable("hostname", err)
	}

	for name, v := range map[string]string{"platform_uuid": uuid, "cpu_model": cpu, "hostname": host} {
		if strings.TrimSpace(v) == "" {
			return nil, g.unavailable(name, errors.New("empty value"))
		}
	}

	return []string{uuid, cpu, host}, nil
}

func (g *Generator) unavailable(component string, err error) error {
	g.logger.Warn("fingerprint component query failed",
		slog.String("fingerprint_component", component),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, component, err)
}

// Matches reports whether the locally computed fingerprint equals the one a
// license record is bound to.
func (g *Generator) Matches(ctx context.Context, recorded string) (bool, error) {
	current, err := g.Fingerprint(ctx)
	if err != nil {
		return false, err
	}
	return current == recorded, nil
}

// ClearCache drops the cached fingerprint, forcing the next call to re-query
// the platform.
func (g *Generator) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = ""
	g.cacheExpiry = time.Time{}
}
