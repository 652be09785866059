package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumlic/internal/config"
	"quantumlic/internal/infrastructure"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a daemon configuration with every file path under a
// temp dir, no activation endpoint, and rate limiting off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	dir := t.TempDir()
	cfg.License.Dir = dir
	cfg.License.Path = filepath.Join(dir, "client.lic")
	cfg.Token.Path = filepath.Join(dir, "auth_token.json")
	cfg.License.APIBase = ""
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

// newTestApplication assembles a daemon around testConfig without opening a
// listener.
func newTestApplication(t *testing.T) *Application {
	t.Helper()

	logger := discardLogger()
	providers, err := infrastructure.InitializeOTel(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(ctx)
	})

	app := &Application{
		Config:        testConfig(t),
		Logger:        logger,
		OTelProviders: providers,
	}
	require.NoError(t, app.initializeServices())
	app.setupRouter()
	app.createServer()
	return app
}

// bearer returns the daemon's current API token for request authorization.
func bearer(app *Application) string {
	return "Bearer " + app.Tokens.Current().Reveal()
}

func TestOTelConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.ServiceName = "quantumd-test"
	cfg.Observability.Environment = "test"
	cfg.Observability.EnableTracing = true
	cfg.Observability.TraceExporter = "stdout"

	oc := otelConfig(cfg)
	assert.Equal(t, "quantumd-test", oc.ServiceName)
	assert.Equal(t, "test", oc.Environment)
	assert.True(t, oc.EnableTracing)
	assert.Equal(t, "stdout", oc.TraceExporter)
	assert.Equal(t, "prometheus", oc.MetricExporter)
	assert.True(t, oc.EnableMetrics)

	cfg.Observability.MetricExporter = "none"
	assert.False(t, otelConfig(cfg).EnableMetrics)
}

func TestNewApplicationFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LONGQ_LICENSE_DIR", dir)
	t.Setenv("LONGQ_TOKEN_PATH", filepath.Join(dir, "auth_token.json"))
	t.Setenv("LONGQ_LOGGING_OUTPUT", "stdout")

	app, err := NewApplication()
	require.NoError(t, err)

	assert.Equal(t, dir, app.Config.License.Dir)
	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Server)
	assert.NotNil(t, app.Tokens)
	assert.NotNil(t, app.Licenses)
	assert.NotNil(t, app.Hub)
	assert.FileExists(t, filepath.Join(dir, "auth_token.json"))
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	app := newTestApplication(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"liveness", "/healthz", http.StatusOK},
		{"readiness without license file", "/healthz/ready", http.StatusServiceUnavailable},
		{"metrics", "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	app := newTestApplication(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"license status", http.MethodGet, "/api/license/status"},
		{"token status", http.MethodGet, "/api/auth/token/status"},
		{"version", http.MethodGet, "/api/version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body["error"])
		})
	}
}

func TestAPIWithBearerToken(t *testing.T) {
	app := newTestApplication(t)

	t.Run("license status reports missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
		req.Header.Set("Authorization", bearer(app))
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var status map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "missing", status["state"])
	})

	t.Run("version", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
		req.Header.Set("Authorization", bearer(app))
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "version")
	})

	t.Run("token status carries prefix only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/token/status", nil)
		req.Header.Set("Authorization", bearer(app))
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var status map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, app.Tokens.Current().Prefix(), status["token_prefix"])
		assert.NotContains(t, rec.Body.String(), app.Tokens.Current().Reveal())
	})
}

func TestTokenRenewFlowThroughRouter(t *testing.T) {
	app := newTestApplication(t)
	oldToken := bearer(app)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token/renew",
		strings.NewReader(`{"grace_seconds": 60}`))
	req.Header.Set("Authorization", oldToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	// Both tokens authenticate during the grace window.
	for name, auth := range map[string]string{
		"new token": "Bearer " + resp.Token,
		"old token": oldToken,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/token/status", nil)
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, name)
	}
}

func TestInsecureModeBypassesAuth(t *testing.T) {
	logger := discardLogger()
	providers, err := infrastructure.InitializeOTel(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	cfg := testConfig(t)
	cfg.Security.AllowInsecure = true

	app := &Application{Config: cfg, Logger: logger, OTelProviders: providers}
	require.NoError(t, app.initializeServices())
	app.setupRouter()

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestWebSocketAuthenticatedFlow(t *testing.T) {
	app := newTestApplication(t)
	app.Hub.Start()
	t.Cleanup(app.Hub.Stop)

	server := httptest.NewServer(app.Router)
	t.Cleanup(server.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(server, "/ws?token="+app.Tokens.Current().Reveal()), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	welcome := readEvent(t, conn)
	assert.Equal(t, "connected", welcome["type"])

	app.Hub.Broadcast("license_status", map[string]string{"state": "valid"})
	event := readEvent(t, conn)
	assert.Equal(t, "license_status", event["type"])
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	app := newTestApplication(t)
	app.Hub.Start()
	t.Cleanup(app.Hub.Stop)

	server := httptest.NewServer(app.Router)
	t.Cleanup(server.Close)

	// The upgrade succeeds so the client can see a close code instead of a
	// dead socket; the very first read delivers 4401.
	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(server, "/ws?token=wrong"), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, 4401), "want close code 4401, got %v", err)
}

func TestGracefulStop(t *testing.T) {
	app := newTestApplication(t)

	// Bind an ephemeral port so Stop has a live listener to drain.
	app.Server.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx, cancel))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, app.Stop(context.Background()))
}
