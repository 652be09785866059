package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "quantumlic/internal/errors"
	"quantumlic/internal/infrastructure"
	"quantumlic/internal/tokenauth"
	"quantumlic/pkg/contracts/domain"
)

// WebSocket close code for failed authentication, in the application range so
// clients can tell an auth failure from a transport failure.
const WSCloseUnauthorized = 4401

// TokenAuthenticator is the part of the token authority the gates need.
type TokenAuthenticator interface {
	Authenticate(candidate string) (bool, domain.TokenFamily)
}

// TokenAuth wraps the API surface with bearer-token checks.
type TokenAuth struct {
	tokens  TokenAuthenticator
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	// allowInsecure disables enforcement for local testing. Off by default;
	// enabling it is logged loudly at construction and per request.
	allowInsecure bool
}

// NewTokenAuth builds the authentication gate. metrics may be nil.
func NewTokenAuth(tokens TokenAuthenticator, allowInsecure bool, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *TokenAuth {
	if logger == nil {
		logger = slog.Default()
	}
	a := &TokenAuth{
		tokens:        tokens,
		logger:        logger.With(slog.String("component", "token_auth")),
		metrics:       metrics,
		allowInsecure: allowInsecure,
	}
	if allowInsecure {
		a.logger.Warn("API AUTHENTICATION DISABLED: insecure mode is for local testing only")
	}
	return a
}

// Handler enforces Authorization: Bearer on every request except CORS
// preflight. Failures get a 401 JSON body and a log line that identifies the
// token family presented, never the token itself.
func (a *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.allowInsecure {
			a.logger.WarnContext(r.Context(), "request admitted without authentication",
				slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		}

		ok, family := a.tokens.Authenticate(tokenauth.FromRequest(r))
		if !ok {
			a.reject(w, r, family)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *TokenAuth) reject(w http.ResponseWriter, r *http.Request, family domain.TokenFamily) {
	ctx := r.Context()
	if a.metrics != nil {
		a.metrics.TokenAuthFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("token_family", string(family))))
	}
	switch family {
	case domain.TokenFamilyPrevious:
		a.logger.WarnContext(ctx, "unauthorized: expired previous token presented",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("token_family", string(family)),
			slog.String("remote_addr", r.RemoteAddr))
	default:
		a.logger.WarnContext(ctx, "unauthorized: unknown or missing token",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("token_family", string(family)),
			slog.String("remote_addr", r.RemoteAddr))
	}
	apierrors.WriteError(w, apierrors.ErrUnauthorized)
}

// AuthenticateWebSocket checks an upgrade request before the handshake. When
// it fails the connection is accepted and immediately closed with
// WSCloseUnauthorized, so the client sees an auth failure, not a dead socket.
// The returned bool reports whether the caller may proceed with the upgrade.
func (a *TokenAuth) AuthenticateWebSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) bool {
	if a.allowInsecure {
		return true
	}

	ok, family := a.tokens.Authenticate(tokenauth.FromWebSocketRequest(r))
	if ok {
		return true
	}

	if a.metrics != nil {
		a.metrics.TokenAuthFailures.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("token_family", string(family))))
	}
	a.logger.WarnContext(r.Context(), "websocket unauthorized",
		slog.String("path", r.URL.Path),
		slog.String("token_family", string(family)),
		slog.String("remote_addr", r.RemoteAddr))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return false
	}
	msg := websocket.FormatCloseMessage(WSCloseUnauthorized, "unauthorized")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
	return false
}
