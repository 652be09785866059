package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"quantumlic/internal/config"
	"quantumlic/internal/fingerprint"
	"quantumlic/internal/infrastructure"
	customMiddleware "quantumlic/internal/middleware"
	"quantumlic/internal/signing"
	"quantumlic/internal/tokenauth"
	httptransport "quantumlic/internal/transport/http"
	"quantumlic/internal/verifier"
	ws "quantumlic/internal/websocket"
	"quantumlic/pkg/contracts"
)

// systemMetricsInterval is how often the runtime gauge snapshot runs.
const systemMetricsInterval = 15 * time.Second

// Application is the assembled quantumd daemon: the local trust surface the
// desktop app talks to. It owns the token authority, the license manager,
// the WebSocket hub and the HTTP server, and ties their lifecycles together.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	Tokens        *tokenauth.Store
	Licenses      *verifier.Manager
	Hub           *ws.Hub
	OTelProviders *infrastructure.OTelProviders

	auth      *customMiddleware.TokenAuth
	otelMW    *customMiddleware.OTelMiddleware
	collector *infrastructure.SystemMetricsCollector

	// cancelBackground stops the license poll loop and the metrics
	// collector; it is created in Start and invoked in Stop.
	cancelBackground context.CancelFunc
}

// NewApplication builds the daemon from configuration: logging and telemetry
// first, then the trust services, then the router and server around them.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	if _, err := cfg.EnsureSupportDir(); err != nil {
		return nil, fmt.Errorf("failed to prepare app-support directory: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(otelConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := app.initializeServices(); err != nil {
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// otelConfig maps the observability config section onto the OTel initializer.
func otelConfig(cfg *config.Config) *infrastructure.OTelConfig {
	return &infrastructure.OTelConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: contracts.Version,
		Environment:    cfg.Observability.Environment,
		TraceExporter:  cfg.Observability.TraceExporter,
		MetricExporter: cfg.Observability.MetricExporter,
		EnableMetrics:  cfg.Observability.MetricExporter != "none",
		EnableTracing:  cfg.Observability.EnableTracing,
		SampleRatio:    1.0,
	}
}

// initializeServices wires the token authority, the license verifier stack
// and the WebSocket hub.
func (a *Application) initializeServices() error {
	ctx := context.Background()
	cfg := a.Config

	otelMW, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	a.otelMW = otelMW

	tokenPath, err := cfg.TokenFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve token path: %w", err)
	}
	a.Tokens = tokenauth.NewStore(tokenPath, a.Logger)
	if err := a.Tokens.Load(ctx, tokenauth.NewSecret(cfg.Token.EnvToken)); err != nil {
		return fmt.Errorf("failed to load token state: %w", err)
	}

	// The embedded key set always verifies; configured keys add or
	// override versions, which is how a key rotation reaches clients
	// before a new build does.
	keys := signing.DefaultPublicKeys()
	if len(cfg.Signing.PublicKeys) > 0 {
		configured, err := signing.PublicKeysFromHex(cfg.Signing.PublicKeys)
		if err != nil {
			return fmt.Errorf("invalid configured public keys: %w", err)
		}
		for version, key := range configured {
			keys[version] = key
		}
	}
	sigVerifier, err := signing.NewVerifier(keys)
	if err != nil {
		return fmt.Errorf("failed to build signature verifier: %w", err)
	}

	licensePath, err := cfg.LicenseFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve license path: %w", err)
	}

	gen := fingerprint.NewGenerator(a.Logger)
	checker := verifier.New(sigVerifier, gen, cfg.License.Product, a.Logger)

	var activation *verifier.ActivationClient
	if cfg.License.APIBase != "" {
		activation = verifier.NewActivationClient(cfg.License.APIBase, cfg.License.APIPath, cfg.License.Product, a.Logger)
	}

	verifierMetrics, err := verifier.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create verifier metrics: %w", err)
	}

	a.Licenses = verifier.NewManager(
		checker,
		verifier.NewFileStore(licensePath),
		activation,
		gen,
		verifier.ManagerConfig{
			Disabled:     cfg.License.Disable,
			PollInterval: cfg.License.PollInterval,
		},
		a.Logger,
		verifierMetrics,
	)

	a.Hub = ws.NewHub(a.Logger, otelMW.Metrics())
	a.Licenses.OnChange(a.Hub.BroadcastLicenseStatus)

	a.auth = customMiddleware.NewTokenAuth(a.Tokens, cfg.Security.AllowInsecure, otelMW.Metrics(), a.Logger)

	collector, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, systemMetricsInterval)
	if err != nil {
		return fmt.Errorf("failed to create system metrics collector: %w", err)
	}
	a.collector = collector

	return nil
}

// setupRouter configures the middleware chain and mounts all routes.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID and RealIP run for every route, including the WebSocket
	// upgrade: neither wraps the ResponseWriter, so hijacking still works.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).HandleFunc("/ws", a.handleWebSocket)

	// Probe and scrape endpoints stay outside the API group: unauthenticated
	// by contract, and kept off the heavier middleware chain.
	healthHandler := httptransport.NewHealthHandler(a.Logger)
	healthHandler.AddCheck("license_file", func(ctx context.Context) error {
		if _, exists := a.Licenses.Path(); !exists && !a.Config.License.Disable {
			return fmt.Errorf("license file missing")
		}
		return nil
	})
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/healthz/ready", healthHandler.Readiness)

	metricsHandler := httptransport.NewMetricsHandler(a.OTelProviders.PrometheusHTTP)
	r.Get("/metrics", metricsHandler.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(a.otelMW.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.corsConfig()))
		r.Use(customMiddleware.Compress(5))
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r, healthHandler)
	})

	a.Router = r
}

// setupAPIRoutes mounts the bearer-authenticated API surface.
func (a *Application) setupAPIRoutes(r chi.Router, healthHandler *httptransport.HealthHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(a.auth.Handler)

		r.Get("/version", healthHandler.Version)

		licenseHandler := httptransport.NewLicenseHandler(a.Licenses, a.Logger)
		r.Mount("/license", licenseHandler.Routes())

		// Token rotation mutates the credential every other route depends
		// on, so it carries an audit trail on top of the request log.
		tokenHandler := httptransport.NewTokenHandler(a.Tokens, a.otelMW.Metrics(), a.Hub, a.Logger)
		r.With(customMiddleware.AuditLog(a.Logger)).Mount("/auth/token", tokenHandler.Routes())
	})
}

// corsConfig derives the CORS policy from the configured origins.
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// handleWebSocket authenticates and upgrades /ws connections, then hands
// them to the hub. License and token status events flow to every client;
// nothing sensitive ever crosses this socket.
func (a *Application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			for _, allowed := range a.Config.Security.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			a.Logger.WarnContext(r.Context(), "websocket origin rejected",
				slog.String("origin", origin))
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			a.Logger.ErrorContext(r.Context(), "websocket upgrade error",
				slog.Int("status", status),
				slog.String("error", reason.Error()))
			http.Error(w, http.StatusText(status), status)
		},
	}

	if !a.auth.AuthenticateWebSocket(&upgrader, w, r) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error via the Error callback.
		return
	}

	ws.ServeWS(a.Hub, conn, customMiddleware.GetRequestID(r.Context()), a.Logger)
}

// createServer builds the HTTP server around the router.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the hub, the background license verification, the system
// metrics collector and the HTTP listener. cancel is invoked if the listener
// fails, so the caller's wait unblocks.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting quantumd",
		slog.String("version", contracts.Version),
		slog.String("addr", a.Config.Server.Addr()),
		slog.String("token_file", a.Tokens.Path()),
		slog.Bool("license_enforcement", !a.Config.License.Disable))

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	a.cancelBackground = cancelBackground

	a.Hub.Start()
	a.Licenses.Start(backgroundCtx)
	go a.collector.Start(backgroundCtx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "quantumd started",
		slog.String("address", fmt.Sprintf("http://%s", a.Config.Server.Addr())))
	return nil
}

// Stop drains the HTTP server and shuts the background services down in
// dependency order: listener first, then pollers, then the hub, telemetry
// last.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down quantumd")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	a.collector.Stop()
	a.Hub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "quantumd shutdown complete")
	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM, then shuts down
// gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
