package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"quantumlic/internal/config"
	"quantumlic/internal/infrastructure"
	"quantumlic/internal/issuance"
	customMiddleware "quantumlic/internal/middleware"
	"quantumlic/internal/signing"
	"quantumlic/internal/store"
	httptransport "quantumlic/internal/transport/http"
	"quantumlic/pkg/contracts"
)

// Issuer is the assembled license-server: the issuance service, its KV
// backend and signing key, and the HTTP surface around POST /issue. It is
// deliberately smaller than the daemon Application; issuance is stateless
// per request and runs nothing in the background.
type Issuer struct {
	Config        *config.Config
	Logger        *slog.Logger
	Router        *chi.Mux
	Server        *http.Server
	Service       *issuance.Service
	Stores        *store.Stores
	OTelProviders *infrastructure.OTelProviders

	otelMW *customMiddleware.OTelMiddleware
	redis  *store.RedisKV
}

// NewIssuer builds the issuance server from configuration. The signing key
// is decrypted here, once, before the listener ever opens; a server that
// cannot sign refuses to start instead of serving signing_error to everyone.
func NewIssuer() (*Issuer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	providers, err := infrastructure.InitializeOTel(otelConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	issuer := &Issuer{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := issuer.initializeServices(); err != nil {
		return nil, err
	}

	issuer.setupRouter()
	issuer.createServer()

	return issuer, nil
}

// initializeServices wires the KV backend, the signer and the issuance core.
func (i *Issuer) initializeServices() error {
	ctx := context.Background()
	cfg := i.Config

	otelMW, err := customMiddleware.NewOTelMiddleware(i.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	i.otelMW = otelMW

	var kv store.KV
	switch cfg.Store.Backend {
	case config.BackendRedis:
		redisKV, err := store.NewRedisKV(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect redis store: %w", err)
		}
		i.redis = redisKV
		kv = redisKV
		i.Logger.Info("issuance store connected",
			slog.String("backend", cfg.Store.Backend),
			slog.String("addr", cfg.Store.Redis.Addr))
	default:
		kv = store.NewMemoryKV()
		i.Logger.Warn("issuance store is in-memory, state is lost on restart")
	}

	priv, keyVersion, err := signing.LoadSigningKey(cfg.Signing.KeystorePath, cfg.Signing.Passphrase())
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	signer, err := signing.NewSigner(priv, keyVersion)
	if err != nil {
		return fmt.Errorf("failed to build signer: %w", err)
	}
	i.Logger.Info("signing key loaded",
		slog.String("keystore", cfg.Signing.KeystorePath),
		slog.Int("key_version", keyVersion))

	metrics, err := issuance.NewMetrics(i.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create issuance metrics: %w", err)
	}

	i.Stores = store.NewStores(kv)
	i.Service = issuance.NewService(
		i.Stores,
		signer,
		issuance.FeaturePolicy{DefaultProduct: cfg.License.Product},
		i.Logger,
		metrics,
	)

	return nil
}

// setupRouter configures the middleware chain and the issuance routes.
func (i *Issuer) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	healthHandler := httptransport.NewHealthHandler(i.Logger)
	if i.redis != nil {
		healthHandler.AddCheck("redis", i.redis.Ping)
	}
	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/healthz/ready", healthHandler.Readiness)

	metricsHandler := httptransport.NewMetricsHandler(i.OTelProviders.PrometheusHTTP)
	r.Get("/metrics", metricsHandler.Metrics)

	r.Group(func(r chi.Router) {
		r.Use(i.otelMW.Handler)
		r.Use(customMiddleware.StructuredLogger(i.Logger))
		r.Use(customMiddleware.Recoverer(i.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if i.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				i.Config.Security.RateLimit.RPS,
				i.Config.Security.RateLimit.Burst,
				i.Logger,
			).Handler)
		}

		issueHandler := httptransport.NewIssueHandler(i.Service, i.Logger)
		r.Mount("/issue", issueHandler.Routes())
	})

	i.Router = r
}

// createServer builds the HTTP server around the router.
func (i *Issuer) createServer() {
	i.Server = &http.Server{
		Addr:           i.Config.Server.Addr(),
		Handler:        i.Router,
		ReadTimeout:    i.Config.Server.ReadTimeout,
		WriteTimeout:   i.Config.Server.WriteTimeout,
		IdleTimeout:    i.Config.Server.IdleTimeout,
		MaxHeaderBytes: i.Config.Server.MaxHeaderBytes,
	}
}

// Start opens the listener. cancel is invoked if it fails, so the caller's
// wait unblocks.
func (i *Issuer) Start(ctx context.Context, cancel context.CancelFunc) error {
	i.Logger.InfoContext(ctx, "starting license-server",
		slog.String("version", contracts.Version),
		slog.String("addr", i.Config.Server.Addr()),
		slog.String("store_backend", i.Config.Store.Backend))

	go func() {
		if err := i.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			i.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop drains the HTTP server, closes the store connection and shuts
// telemetry down.
func (i *Issuer) Stop(ctx context.Context) error {
	i.Logger.InfoContext(ctx, "shutting down license-server")

	shutdownCtx, cancel := context.WithTimeout(ctx, i.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := i.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			i.Logger.ErrorContext(ctx, "error closing redis store",
				slog.String("error", err.Error()))
		}
	}

	if i.OTelProviders != nil {
		if err := i.OTelProviders.Shutdown(shutdownCtx); err != nil {
			i.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	i.Logger.InfoContext(ctx, "license-server shutdown complete")
	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts down
// gracefully.
func (i *Issuer) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := i.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		i.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return i.Stop(context.Background())
}
