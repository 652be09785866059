package http

import (
	"net/http"
)

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct {
	prometheus http.Handler
}

// NewMetricsHandler wraps the Prometheus handler from the OTel providers.
// A nil handler (metrics disabled) answers 404.
func NewMetricsHandler(prometheus http.Handler) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus}
}

// Metrics handles GET /metrics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		http.NotFound(w, r)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}
