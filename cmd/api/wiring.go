package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sangkips/idempotency-api/internal/config"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/internal/infrastructure/repository"
)

// newIdempotencyStore selects the store for the configured backend. db and
// rdb are only used by their own backends.
func newIdempotencyStore(cfg *config.IdempotencyConfig, db *gorm.DB, rdb redis.UniversalClient) domainRepo.IdempotencyStore {
	opts := []repository.StoreOption{
		repository.WithSupportPolicy(repository.SupportPolicy{
			Methods:              cfg.Methods,
			ExcludedPathSegments: cfg.ExcludedPaths,
		}),
		repository.WithTTL(cfg.TTL),
		repository.WithLockTimeout(cfg.LockTimeout),
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		return repository.NewIdempotencyRepository(db, opts...)
	case config.BackendRedis:
		return repository.NewRedisIdempotencyStore(rdb, opts...)
	case config.BackendMemory:
		return repository.NewMemoryIdempotencyStore(opts...)
	default:
		return repository.NewNoIdempotencyStore()
	}
}

func newThingRepository(cfg *config.StorageConfig, db *gorm.DB) domainRepo.ThingRepository {
	if cfg.Backend == config.BackendPostgres {
		return repository.NewThingRepository(db)
	}
	return repository.NewMemoryThingRepository()
}

// runJanitor deletes expired idempotency records every interval until ctx is done
func runJanitor(ctx context.Context, store domainRepo.ExpiringIdempotencyStore, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.DeleteExpired(ctx); err != nil && ctx.Err() == nil {
				log.Warn("failed to delete expired idempotency records", slog.Any("error", err))
			}
		}
	}
}
