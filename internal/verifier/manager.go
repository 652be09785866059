package verifier

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"quantumlic/internal/fingerprint"
	"quantumlic/pkg/contracts/domain"
)

// DefaultPollInterval is how often a running manager re-verifies the license
// file in the background.
const DefaultPollInterval = 60 * time.Second

// ManagerConfig tunes the license manager.
type ManagerConfig struct {
	// Disabled switches enforcement off entirely. Every check reports the
	// disabled state. Development builds only; off by default.
	Disabled bool
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Manager caches the last verification result and keeps it fresh: on demand
// via Refresh, in the background via Start, and after Activate. The API and
// WebSocket surfaces read the cached state, so a verification never sits on
// a request path unless explicitly asked for.
type Manager struct {
	verifier    *Verifier
	store       *FileStore
	client      *ActivationClient
	fingerprint *fingerprint.Generator
	logger      *slog.Logger
	metrics     *Metrics

	disabled     bool
	pollInterval time.Duration

	mu     sync.RWMutex
	status domain.LicenseStatus

	actMu sync.Mutex

	onChange func(domain.LicenseStatus)
}

// NewManager wires a manager. client may be nil, which disables Activate.
// metrics may be nil, which disables instrumentation.
func NewManager(v *Verifier, store *FileStore, client *ActivationClient, gen *fingerprint.Generator, cfg ManagerConfig, logger *slog.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	m := &Manager{
		verifier:     v,
		store:        store,
		client:       client,
		fingerprint:  gen,
		logger:       logger.With(slog.String("component", "license_manager")),
		metrics:      metrics,
		disabled:     cfg.Disabled,
		pollInterval: interval,
	}
	if cfg.Disabled {
		m.status = domain.LicenseStatus{
			State:  domain.LicenseStateDisabled,
			Detail: "License checks disabled by configuration.",
		}
	} else {
		m.status = domain.LicenseStatus{
			State:  domain.LicenseStateMissing,
			Detail: "License not yet checked.",
		}
	}
	return m
}

// OnChange registers a callback invoked whenever the cached state or reason
// changes. Set it before Start; the callback runs on the manager's goroutine.
func (m *Manager) OnChange(fn func(domain.LicenseStatus)) {
	m.onChange = fn
}

// Start verifies immediately and then re-verifies on the poll interval until
// ctx is cancelled. In disabled mode it does nothing.
func (m *Manager) Start(ctx context.Context) {
	if m.disabled {
		m.logger.WarnContext(ctx, "license enforcement disabled, skipping background verification")
		return
	}
	m.Refresh(ctx)
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("license revalidation stopped")
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Status returns the cached verification snapshot.
func (m *Manager) Status() domain.LicenseStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsValid reports whether gated features are currently unlocked.
func (m *Manager) IsValid() bool {
	return m.Status().Activated()
}

// Path returns the license file location and whether a file is present.
func (m *Manager) Path() (string, bool) {
	return m.store.Path(), m.store.Exists()
}

// Refresh re-verifies the on-disk license and updates the cache.
func (m *Manager) Refresh(ctx context.Context) domain.LicenseStatus {
	if m.disabled {
		return m.Status()
	}
	return m.verify(ctx)
}

func (m *Manager) verify(ctx context.Context) domain.LicenseStatus {
	status := m.verifier.VerifyFile(ctx, m.store.Path())
	m.metrics.observeCheck(ctx, status)
	m.setStatus(status)
	return status
}

// Activate requests a license for this machine and this email, stores the
// response verbatim, and re-verifies from disk. The returned status is the
// post-activation verification result.
func (m *Manager) Activate(ctx context.Context, email string) (status domain.LicenseStatus, err error) {
	if m.disabled {
		m.logger.InfoContext(ctx, "activation skipped, license enforcement disabled")
		return m.Status(), nil
	}
	if m.client == nil {
		return m.Status(), activationErr("not_configured", "No license server configured.", http.StatusServiceUnavailable)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return m.Status(), activationErr("email_required", "Email is required.", http.StatusBadRequest)
	}

	m.actMu.Lock()
	defer m.actMu.Unlock()
	defer func() {
		m.metrics.observeActivation(ctx, err)
	}()

	previous := m.Status()
	m.setStatus(domain.LicenseStatus{State: domain.LicenseStateActivating})

	fp, err := m.fingerprint.Fingerprint(ctx)
	if err != nil {
		// A machine without a fingerprint can never hold a valid license,
		// so this is fatal to activation and surfaced as-is.
		m.logger.ErrorContext(ctx, "activation aborted, fingerprint unavailable", slog.String("error", err.Error()))
		m.setStatus(previous)
		if errors.Is(err, fingerprint.ErrUnavailable) {
			return previous, activationErr("fingerprint_unavailable", "Unable to identify this machine.", http.StatusInternalServerError)
		}
		return previous, err
	}

	m.logger.InfoContext(ctx, "activating license", slog.String("fingerprint_sha256", fp))

	raw, err := m.client.Issue(ctx, email, fp)
	if err != nil {
		m.setStatus(previous)
		return previous, err
	}
	if err := m.store.Save(raw); err != nil {
		m.logger.ErrorContext(ctx, "failed to write license file",
			slog.String("path", m.store.Path()),
			slog.String("error", err.Error()))
		m.setStatus(previous)
		return previous, activationErr("write_failed", "Failed to write license file: "+err.Error(), http.StatusInternalServerError)
	}

	status = m.verify(ctx)
	m.logger.InfoContext(ctx, "verification after activation", slog.String("state", string(status.State)))

	if status.State != domain.LicenseStateValid {
		detail := status.Detail
		if detail == "" {
			detail = "License verification failed."
		}
		return status, activationErr("verification_failed", detail, http.StatusInternalServerError)
	}
	return status, nil
}

func (m *Manager) setStatus(status domain.LicenseStatus) {
	m.mu.Lock()
	changed := status.State != m.status.State || status.Reason != m.status.Reason
	m.status = status
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(status)
	}
}
