package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/wingops/wingops/pkg/config"
	"github.com/wingops/wingops/pkg/observability"
	"github.com/wingops/wingops/pkg/permissions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("database not reachable")
		os.Exit(1)
	}

	if err := permissions.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	var redisClient *redis.Client
	var cache permissions.SnapshotCache
	switch cfg.Cache.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		redisCache, err := permissions.NewRedisCache(redisClient, cfg.Cache.TTL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to Redis")
			os.Exit(1)
		}
		cache = redisCache
		logger.Infof("using Redis snapshot cache at %s", cfg.Cache.RedisAddr)
	default:
		cache = permissions.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		logger.Infof("using in-memory snapshot cache (%d entries, ttl %s)", cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}

	store := permissions.NewStore(db)
	resolver := permissions.NewResolver(db)
	service := permissions.NewService(store, resolver, cache, logger, metrics)
	handlers := permissions.NewHandlers(service, logger)

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(metrics.Middleware)
	}
	handlers.RegisterRoutes(router)

	health := observability.NewHealthChecker(db, redisClient)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", health.Liveness).Methods("GET")
	healthRouter.HandleFunc("/readyz", health.Readiness).Methods("GET")
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	// Periodic cache gauge refresh, plus snapshot pre-warming for pilots the
	// deployment expects to be hot.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Cache.StatsInterval, func() {
		stats := service.CacheStats(context.Background())
		logger.WithFields(map[string]interface{}{
			"entries":      stats.Entries,
			"hits":         stats.Hits,
			"misses":       stats.Misses,
			"rule_version": stats.RuleVersion,
		}).Debug("permission cache stats")

		for _, pilotID := range cfg.Cache.WarmupPilotIDs {
			if _, err := service.RefreshUserPermissions(context.Background(), pilotID); err != nil {
				logger.WithError(err).WithField("pilot_id", pilotID).Warn("snapshot warmup failed")
			}
		}
	})
	if err != nil {
		logger.WithError(err).Error("invalid cache stats schedule")
		os.Exit(1)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.HealthAddr(),
		Handler: healthRouter,
	}

	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("permission server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("OpenTelemetry shutdown failed")
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("shutdown complete")
}
