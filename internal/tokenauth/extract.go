package tokenauth

import (
	"net/http"
	"strings"
)

// ExtractBearer returns the credential carried in an Authorization header
// value. The Bearer scheme is matched case-insensitively; a bare token
// without a scheme is accepted for legacy callers.
func ExtractBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}

// FromRequest pulls the presented token from an HTTP request's Authorization
// header.
func FromRequest(r *http.Request) string {
	return ExtractBearer(r.Header.Get("Authorization"))
}

// FromWebSocketRequest pulls the presented token from a WebSocket upgrade
// request: the token query parameter first, then the Authorization header.
// Browsers cannot set headers on WebSocket handshakes, hence the parameter.
func FromWebSocketRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return ExtractBearer(r.Header.Get("Authorization"))
}
