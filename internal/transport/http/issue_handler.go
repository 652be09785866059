package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "quantumlic/internal/errors"
	api "quantumlic/pkg/contracts/api/v1"
)

// IssueRequest is an alias to the canonical contract type.
type IssueRequest = api.IssueRequest

// IssueHandler exposes license issuance over HTTP.
type IssueHandler struct {
	service IssuanceService
	binder  *Binder
	logger  *slog.Logger
}

// NewIssueHandler creates the issuance handler.
func NewIssueHandler(service IssuanceService, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{
		service: service,
		binder:  NewBinder(),
		logger:  logger.With(slog.String("handler", "issue")),
	}
}

// Routes returns a chi router for the issuance endpoint.
func (h *IssueHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Issue)
	return r
}

// Issue handles POST /issue. A fresh issuance answers 201 with the signed
// record; an idempotent replay answers 200 with the original record,
// byte-for-byte the same payload the first call produced.
func (h *IssueHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("issue-handler")

	ctx, span := tracer.Start(ctx, "issue_handler.issue",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/issue"),
		),
	)
	defer span.End()

	var req IssueRequest
	if apiErr := h.binder.Bind(r, &req); apiErr != nil {
		span.SetAttributes(attribute.String("error.type", "request_binding"))
		h.logger.WarnContext(ctx, "malformed issue request",
			slog.Any("details", apiErr.Details))
		render.Render(w, r, apiErr)
		return
	}

	issueCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rec, created, err := h.service.Issue(issueCtx, req)
	if err != nil {
		apiErr := apierrors.FromError(err)
		span.SetAttributes(
			attribute.String("issuance.outcome", apiErr.Code),
		)
		// The service already logged the denial with hashed identifiers;
		// here only the wire outcome matters.
		render.Render(w, r, apiErr)
		return
	}

	span.SetAttributes(
		attribute.Bool("issuance.created", created),
		attribute.String("license.id", rec.LicenseID),
	)

	if created {
		render.Status(r, http.StatusCreated)
	} else {
		render.Status(r, http.StatusOK)
	}
	render.JSON(w, r, rec)
}
