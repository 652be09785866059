package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumlic/pkg/contracts"
)

func TestHealthHandlerLiveness(t *testing.T) {
	h := NewHealthHandler(discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Liveness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, contracts.Version, got["version"])
	assert.Contains(t, got, "uptime")
}

func TestHealthHandlerReadiness(t *testing.T) {
	h := NewHealthHandler(discardLogger())
	h.AddCheck("kv", func(ctx context.Context) error { return nil })
	h.AddCheck("signer", func(ctx context.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz/ready", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, map[string]string{"kv": "ok", "signer": "ok"}, got.Checks)
}

func TestHealthHandlerReadinessDegraded(t *testing.T) {
	h := NewHealthHandler(discardLogger())
	h.AddCheck("kv", func(ctx context.Context) error { return nil })
	h.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	req := httptest.NewRequest(http.MethodGet, "/healthz/ready", nil)
	rec := httptest.NewRecorder()
	h.Readiness(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "ok", got.Checks["kv"])
	assert.Equal(t, "connection refused", got.Checks["redis"])
}

func TestHealthHandlerVersion(t *testing.T) {
	h := NewHealthHandler(discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	h.Version(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, contracts.Version, got["version"])
	assert.Equal(t, contracts.APIVersion, got["api_version"])
}
