package middleware

import (
	"log/slog"
	"net/http"

	apierrors "quantumlic/internal/errors"
	"quantumlic/pkg/contracts/domain"
)

// LicenseGate blocks feature routes while the machine holds no valid license.
// It reads the manager's cached state, so the check costs one RLock; the
// manager keeps that state fresh on its own schedule.
type LicenseGate struct {
	licenses LicenseStatusProvider
	logger   *slog.Logger
}

// NewLicenseGate builds the gate.
func NewLicenseGate(licenses LicenseStatusProvider, logger *slog.Logger) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseGate{
		licenses: licenses,
		logger:   logger.With(slog.String("component", "license_gate")),
	}
}

// Handler rejects requests with 403 license_required unless the cached
// license state unlocks features. Never a crash: any non-activated state is
// just a denial.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := g.licenses.Status()
		if !status.Activated() {
			g.logger.WarnContext(r.Context(), "feature route blocked, license not active",
				slog.String("path", r.URL.Path),
				slog.String("state", string(status.State)),
				slog.String("reason", status.Reason))
			apierrors.WriteError(w, apierrors.ErrLicenseRequired)
			return
		}
		if status.State == domain.LicenseStateDisabled {
			g.logger.DebugContext(r.Context(), "license gate bypassed, enforcement disabled")
		}
		next.ServeHTTP(w, r)
	})
}
