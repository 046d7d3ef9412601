package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	engineconfig "lendmigrate/config"
	"lendmigrate/native/migration"
	"lendmigrate/observability/logging"
	telemetry "lendmigrate/observability/otel"
	"lendmigrate/services/migrated/config"
	"lendmigrate/services/migrated/middleware"
	"lendmigrate/services/migrated/server"
	"lendmigrate/services/migrated/storage"
	kvstorage "lendmigrate/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to migrated YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithFile(cfg.Observability.ServiceName, cfg.Environment, logging.ParseLevel(cfg.Log.Level), logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	telemetryCfg := telemetry.ConfigFromEnv(cfg.Observability.ServiceName, cfg.Environment)
	telemetryCfg.Traces = telemetryCfg.Traces && cfg.Observability.Tracing
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	engineCfg, err := engineconfig.Load(cfg.EngineConfig)
	if err != nil {
		log.Fatalf("load engine config: %v", err)
	}
	deployment, err := engineCfg.SandboxConfig()
	if err != nil {
		log.Fatalf("engine config: %v", err)
	}

	feeDB, err := kvstorage.Open(engineCfg.Engine.FeeStore, filepath.Join(engineCfg.DataDir, "fees"))
	if err != nil {
		log.Fatalf("open fee store: %v", err)
	}
	defer feeDB.Close()
	admin, err := migration.NewAdmin(deployment.Owner, migration.NewKVFeeStore(feeDB), migration.AdminConfig{
		DefaultRateBps: engineCfg.Engine.FeeBps,
		MaxRateBps:     engineCfg.Engine.MaxFeeBps,
	})
	if err != nil {
		log.Fatalf("init fee admin: %v", err)
	}
	admin.SetLogger(logger)

	audit, err := storage.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		log.Fatalf("open audit store: %v", err)
	}
	defer audit.Close()
	logger.Info("audit store opened", "driver", cfg.Audit.Driver, logging.MaskField("dsn", cfg.Audit.DSN))

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.ID] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}

	hub := server.NewHub(cfg.EventBuffer)
	admin.SetEmitter(hub)

	srv, err := server.New(server.Options{
		Deployment: deployment,
		Admin:      admin,
		Audit:      audit,
		Hub:        hub,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		AdminScope: cfg.Auth.AdminScope,
		Limiter:    middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics,
		}, prometheus.DefaultRegisterer, logger),
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), cfg.Observability.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("migrated listening", "address", cfg.ListenAddress, "engine", deployment.Engine.Hex(), "pool", deployment.Pool.Hex())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
