package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "quantumlic/internal/errors"
	"quantumlic/internal/verifier"
	api "quantumlic/pkg/contracts/api/v1"
	"quantumlic/pkg/contracts/domain"
)

// Handler timeouts. Refresh re-reads one local file; activation crosses the
// network to the issuance service.
const (
	refreshTimeout  = 5 * time.Second
	activateTimeout = 30 * time.Second
)

// LicenseManager is the slice of the verifier manager the HTTP layer consumes.
type LicenseManager interface {
	Status() domain.LicenseStatus
	Refresh(ctx context.Context) domain.LicenseStatus
	Activate(ctx context.Context, email string) (domain.LicenseStatus, error)
	Path() (string, bool)
}

// LicenseHandler exposes the local license state and activation.
type LicenseHandler struct {
	manager LicenseManager
	binder  *Binder
	logger  *slog.Logger
}

func NewLicenseHandler(manager LicenseManager, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		manager: manager,
		binder:  NewBinder(),
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes mounts the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/refresh", h.Refresh)
	r.Get("/debug", h.GetDebugInfo)
	return r
}

// GetStatus reads the cached state only; the manager keeps that state fresh
// in the background.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.manager.Status())
}

// Refresh re-verifies the license file now instead of waiting for the next
// background pass.
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	render.JSON(w, r, h.manager.Refresh(ctx))
}

// Activate requests a license from the issuance service, persists it and
// reports the resulting state. Outcomes are annotated on the request span
// the telemetry middleware already opened.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	span := trace.SpanFromContext(r.Context())

	var req api.LicenseActivateRequest
	if apiErr := h.binder.Bind(r, &req); apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), activateTimeout)
	defer cancel()

	status, err := h.manager.Activate(ctx, req.Email)
	if err != nil {
		span.SetAttributes(attribute.String("activation.outcome", "failure"))
		h.renderActivationError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("activation.outcome", "success"),
		attribute.String("license.state", string(status.State)),
	)
	render.JSON(w, r, status)
}

// GetDebugInfo reports where the daemon looks for its license file and the
// state it last saw, for support bundles.
func (h *LicenseHandler) GetDebugInfo(w http.ResponseWriter, r *http.Request) {
	path, exists := h.manager.Path()

	render.JSON(w, r, struct {
		FilePath   string               `json:"file_path"`
		FileExists bool                 `json:"file_exists"`
		Status     domain.LicenseStatus `json:"status"`
	}{
		FilePath:   path,
		FileExists: exists,
		Status:     h.manager.Status(),
	})
}

// renderActivationError relays an activation failure with its own status
// code and stable machine code; anything else collapses to a generic 500.
func (h *LicenseHandler) renderActivationError(w http.ResponseWriter, r *http.Request, err error) {
	var actErr *verifier.ActivationError
	if errors.As(err, &actErr) {
		h.logger.WarnContext(r.Context(), "license activation failed",
			slog.String("code", actErr.Code),
			slog.Int("status", actErr.StatusCode))
		render.Render(w, r, apierrors.New(actErr.StatusCode, actErr.Code, actErr.Message))
		return
	}

	h.logger.ErrorContext(r.Context(), "license activation failed",
		slog.String("error", err.Error()))
	render.Render(w, r, apierrors.ErrInternalServer)
}
