package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/background"
	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/config"
	"github.com/BradenHooton/bulwark/internal/database"
	"github.com/BradenHooton/bulwark/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bulwark/internal/middleware"
	"github.com/BradenHooton/bulwark/internal/repositories"
	"github.com/BradenHooton/bulwark/internal/routes"
	"github.com/BradenHooton/bulwark/internal/services"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: pkglogger.ParseLevel(cfg.Server.LogLevel),
	}))
	alertLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	clk := clock.System{}
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewSecurityMetrics(registry)

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Security event writers: synchronous local writers first, network writers behind async queues
	recent := pkglogger.NewMemoryWriter(cfg.Sinks.RecentEvents)
	writers := []pkglogger.EventWriter{
		pkglogger.NewConsoleWriter(logger, alertLogger),
		recent,
	}
	var asyncWriters []*pkglogger.AsyncWriter
	addAsync := func(w pkglogger.EventWriter) {
		aw := pkglogger.NewAsyncWriter(w, cfg.Sinks.BufferSize, alertLogger, pkglogger.WithWriteTimeout(cfg.Sinks.WriteTimeout))
		asyncWriters = append(asyncWriters, aw)
		writers = append(writers, aw)
	}

	var fileWriter *pkglogger.FileWriter
	if cfg.Sinks.LogDir != "" {
		fileWriter, err = pkglogger.NewFileWriter(pkglogger.FileWriterConfig{
			Dir:        cfg.Sinks.LogDir,
			MaxSizeMB:  cfg.Sinks.MaxSizeMB,
			MaxBackups: cfg.Sinks.MaxBackups,
			MaxAgeDays: cfg.Sinks.MaxAgeDays,
		})
		if err != nil {
			logger.Error("failed to open security log", slog.Any("error", err))
			os.Exit(1)
		}
		writers = append(writers, fileWriter)
	}

	if cfg.Sinks.PersistEvents {
		addAsync(eventRepo)
	}

	var rdb *redis.Client
	var redisEvents *repositories.RedisEventWriter
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, shared event stream disabled", slog.Any("error", err))
			_ = rdb.Close()
			rdb = nil
		} else {
			redisEvents = repositories.NewRedisEventWriter(rdb, repositories.WithMaxRecent(int64(cfg.Sinks.RecentEvents)))
			addAsync(redisEvents)
		}
		cancel()
	}

	if cfg.Sinks.AlertsEnabled() {
		alerts, err := services.NewEmailAlertWriter(ctx, cfg.Sinks.AWSRegion, cfg.Sinks.AlertEmailFrom, cfg.Sinks.AlertEmailTo, logger)
		if err != nil {
			logger.Error("failed to initialize alert email", slog.Any("error", err))
			os.Exit(1)
		}
		addAsync(alerts)
	}

	sink := pkglogger.NewSecuritySink(writers,
		pkglogger.WithFallbackLogger(alertLogger),
		pkglogger.WithObserver(metrics),
	)

	// Abuse-prevention core
	limiter, err := services.NewRateLimitRegistry(cfg.Security.Tiers, clk, sink, metrics, logger)
	if err != nil {
		logger.Error("invalid rate limit configuration", slog.Any("error", err))
		os.Exit(1)
	}
	tracker, err := services.NewAttemptTracker(cfg.Security.Lockout, clk, sink, metrics)
	if err != nil {
		logger.Error("invalid lockout configuration", slog.Any("error", err))
		os.Exit(1)
	}
	gate := services.NewAccessGate(tracker, limiter, logger)

	var purger background.EventPurger
	if cfg.Sinks.PersistEvents {
		purger = eventRepo
	}
	sweeper := background.NewSweeper(tracker, limiter, purger, metrics, clk, background.SweeperConfig{
		Interval:       cfg.Security.SweepInterval,
		Staleness:      cfg.Security.SweepStaleness,
		EventRetention: cfg.Security.EventRetention,
	}, logger)

	// Auth
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, clk)
	guard := auth.NewGuard(tokenManager, sink, clk, ipConfig)
	verifier := services.NewPasswordVerifier(userRepo, logger)
	authService := services.NewAuthService(gate, verifier, tokenManager, userRepo, logger)

	// Handlers
	security := middlewareCustom.NewSecurity(gate, sink, clk, ipConfig, logger)

	var eventReader handlers.EventReader = recent
	var handlerOpts []handlers.SecurityHandlerOption
	if cfg.Sinks.PersistEvents {
		eventReader = eventRepo
		handlerOpts = append(handlerOpts, handlers.WithEventQuerier(eventRepo))
	}
	if redisEvents != nil {
		eventReader = redisEvents
		handlerOpts = append(handlerOpts, handlers.WithEventCounter(redisEvents))
	}

	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService, ipConfig),
		Contact:  handlers.NewContactHandler(logger, ipConfig),
		Upload:   handlers.NewUploadHandler(security),
		Security: handlers.NewSecurityHandler(gate, eventReader, sweeper, clk, logger, handlerOpts...),
		Health: func(w http.ResponseWriter, r *http.Request) {
			report, err := db.Health(r.Context())
			if err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "database": report})
				return
			}
			pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy", "database": report})
		},
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(middlewareCustom.SecureLogger(logger, clk, ipConfig))
	router.Use(middleware.Recoverer)
	if cfg.Server.FloodRequests > 0 {
		router.Use(security.FloodGuard(cfg.Server.FloodRequests, cfg.Server.FloodWindow))
	}
	router.Use(security.DiscoveryGuard)

	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Route("/api", func(r chi.Router) {
		routes.RegisterRoutes(r, security, guard, h, routes.UploadLimits{
			MaxBytes:     cfg.Security.UploadMaxBytes,
			AllowedTypes: cfg.Security.UploadTypes,
		})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start sweeper
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	sweeper.Stop()
	sweepCancel()

	// Drain queued events before their backends go away
	for _, aw := range asyncWriters {
		if err := aw.Close(shutdownCtx); err != nil {
			logger.Warn("security event queue not drained", slog.String("writer", aw.Name()), slog.Any("error", err))
		}
	}
	if fileWriter != nil {
		if err := fileWriter.Close(); err != nil {
			logger.Warn("failed to close security log", slog.Any("error", err))
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}

	logger.Info("server stopped gracefully")
}
