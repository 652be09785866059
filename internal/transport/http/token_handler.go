package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "quantumlic/internal/errors"
	"quantumlic/internal/infrastructure"
	"quantumlic/internal/tokenauth"
	api "quantumlic/pkg/contracts/api/v1"
)

// TokenRotateRequest is an alias to the canonical contract type.
type TokenRotateRequest = api.TokenRotateRequest

// TokenRenewRequest is an alias to the canonical contract type.
type TokenRenewRequest = api.TokenRenewRequest

// TokenRotateResponse confirms a rotation without echoing the new token;
// callers that need the value use renew instead.
type TokenRotateResponse struct {
	OK           bool    `json:"ok"`
	TokenPrefix  string  `json:"token_prefix"`
	GraceSeconds float64 `json:"grace_seconds"`
	Persisted    bool    `json:"persisted"`
}

// TokenRenewResponse hands the caller its replacement token. This is the one
// place a raw token crosses the API, and only to an already-authenticated
// caller.
type TokenRenewResponse struct {
	Token string `json:"token"`
}

// TokenAuthority is the part of the token store the HTTP layer consumes.
type TokenAuthority interface {
	Rotate(ctx context.Context, newToken tokenauth.Secret, graceSeconds float64, persist bool) (tokenauth.Secret, error)
	Renew(ctx context.Context, graceSeconds float64) (tokenauth.Secret, error)
	Status() tokenauth.Status
}

// TokenEvents receives a status push after every successful rotation, so
// connected clients learn about the new grace window without polling.
type TokenEvents interface {
	BroadcastTokenStatus(status tokenauth.Status)
}

// TokenHandler exposes rotation and diagnostics for the API bearer token.
type TokenHandler struct {
	tokens  TokenAuthority
	binder  *Binder
	metrics *infrastructure.BusinessMetrics
	events  TokenEvents
	logger  *slog.Logger
}

// NewTokenHandler creates the token handler. metrics and events may be nil.
func NewTokenHandler(tokens TokenAuthority, metrics *infrastructure.BusinessMetrics, events TokenEvents, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:  tokens,
		binder:  NewBinder(),
		metrics: metrics,
		events:  events,
		logger:  logger.With(slog.String("handler", "token")),
	}
}

// Routes returns a chi router for token endpoints.
func (h *TokenHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/rotate", h.Rotate)
	r.Post("/renew", h.Renew)
	r.Get("/status", h.GetStatus)
	return r
}

// Rotate handles POST /api/auth/token/rotate. An empty body rotates to a
// generated token with no grace window, mirroring an explicit
// {"grace_seconds": 0}.
func (h *TokenHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("token-handler")

	ctx, span := tracer.Start(ctx, "token_handler.rotate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/token/rotate"),
		),
	)
	defer span.End()

	var req TokenRotateRequest
	if apiErr := h.bindLenient(r, &req); apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	persist := true
	if req.Persist != nil {
		persist = *req.Persist
	}

	grace := req.GraceSeconds
	if grace < 0 {
		grace = 0
	}

	rotated, err := h.tokens.Rotate(ctx, tokenauth.NewSecret(req.Token), grace, persist)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "persistence"))
		h.logger.ErrorContext(ctx, "token rotation failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrStorage.WithMessage("Token rotation aborted: new token could not be persisted"))
		return
	}

	if h.metrics != nil {
		h.metrics.TokenRotationsTotal.Add(ctx, 1)
	}
	if h.events != nil {
		h.events.BroadcastTokenStatus(h.tokens.Status())
	}
	span.SetAttributes(attribute.Bool("token.persisted", persist))

	render.JSON(w, r, TokenRotateResponse{
		OK:           true,
		TokenPrefix:  rotated.Prefix(),
		GraceSeconds: grace,
		Persisted:    persist,
	})
}

// Renew handles POST /api/auth/token/renew. The authority generates the
// replacement and keeps the old token valid for the grace window (default
// one minute) so the caller can swap credentials without a dead moment.
func (h *TokenHandler) Renew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("token-handler")

	ctx, span := tracer.Start(ctx, "token_handler.renew",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/token/renew"),
		),
	)
	defer span.End()

	var req TokenRenewRequest
	if apiErr := h.bindLenient(r, &req); apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	renewed, err := h.tokens.Renew(ctx, req.GraceSeconds)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "persistence"))
		h.logger.ErrorContext(ctx, "token renewal failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrStorage.WithMessage("Token renewal aborted: new token could not be persisted"))
		return
	}

	if h.metrics != nil {
		h.metrics.TokenRotationsTotal.Add(ctx, 1)
	}
	if h.events != nil {
		h.events.BroadcastTokenStatus(h.tokens.Status())
	}

	render.JSON(w, r, TokenRenewResponse{Token: renewed.Reveal()})
}

// GetStatus handles GET /api/auth/token/status. The body carries the key
// prefix and grace diagnostics, never the token itself.
func (h *TokenHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.tokens.Status())
}

// bindLenient decodes like Bind but treats an absent or empty body as the
// zero request, since every field on the token endpoints is optional.
func (h *TokenHandler) bindLenient(r *http.Request, v any) *apierrors.APIError {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		if errors.Is(err, io.EOF) {
			return h.binder.Validate(v)
		}
		return apierrors.ErrMalformedRequest.WithDetails(err.Error())
	}
	return h.binder.Validate(v)
}
