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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sangkips/idempotency-api/internal/application/service"
	"github.com/sangkips/idempotency-api/internal/config"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/internal/infrastructure/database"
	"github.com/sangkips/idempotency-api/internal/infrastructure/logger"
	"github.com/sangkips/idempotency-api/internal/presentation/http/handler"
	"github.com/sangkips/idempotency-api/internal/presentation/http/middleware"
	"github.com/sangkips/idempotency-api/internal/presentation/http/routes"
	"github.com/sangkips/idempotency-api/pkg/bodybuffer"
	"github.com/sangkips/idempotency-api/pkg/fingerprint"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.Init(cfg.App.LogLevel, cfg.App.LogFormat, os.Stdout)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var db *gorm.DB
	if cfg.NeedsPostgres() {
		var err error
		db, err = database.NewPostgresDB(&cfg.Database, cfg.App.Debug)
		if err != nil {
			return err
		}
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	var rdb *redis.Client
	if cfg.Idempotency.Backend == config.BackendRedis {
		var err error
		rdb, err = database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// Initialize repositories
	store := newIdempotencyStore(&cfg.Idempotency, db, rdb)
	thingRepo := newThingRepository(&cfg.Storage, db)

	// Expired claims are purged in the background where the store needs it
	if expiring, ok := store.(domainRepo.ExpiringIdempotencyStore); ok && cfg.Idempotency.JanitorInterval > 0 {
		go runJanitor(ctx, expiring, cfg.Idempotency.JanitorInterval, log)
	}

	rateLimiter := middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: float64(cfg.RateLimit.Requests) / float64(cfg.RateLimit.Duration),
		BurstSize:         cfg.RateLimit.Requests,
		CleanupInterval:   5 * time.Minute,
		EntryTTL:          10 * time.Minute,
	})
	go rateLimiter.Run(ctx.Done())

	// Initialize handlers
	handlers := &routes.Handlers{
		Thing: handler.NewThingHandler(service.NewThingService(thingRepo), routes.APIBasePath),
	}

	// Setup routes
	router := routes.Setup(handlers, &routes.Deps{
		Cfg:    cfg,
		Logger: log,
		Idempotency: middleware.IdempotencyConfig{
			Store:         store,
			Fingerprinter: fingerprint.New(),
			BufferPool: bodybuffer.NewPool(
				bodybuffer.WithThreshold(cfg.Idempotency.BufferThreshold),
				bodybuffer.WithTempDir(cfg.Idempotency.BufferDir),
			),
			Metrics: middleware.NewIdempotencyMetrics(prometheus.DefaultRegisterer),
			Logger:  log,
		},
		RateLimiter: rateLimiter,
	})

	port := cfg.App.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			slog.String("service", cfg.App.Name),
			slog.String("port", port),
			slog.String("env", cfg.App.Env),
			slog.String("idempotency_backend", cfg.Idempotency.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
