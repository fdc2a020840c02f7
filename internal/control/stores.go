package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/flatshare/internal/core/config"
	redisclient "github.com/vietddude/flatshare/internal/infra/redis"
	"github.com/vietddude/flatshare/internal/infra/storage"
	"github.com/vietddude/flatshare/internal/infra/storage/memory"
	"github.com/vietddude/flatshare/internal/infra/storage/postgres"
)

// Stores holds the repositories selected by the storage driver.
type Stores struct {
	Queue storage.QueueRepository
	Cache storage.CacheRepository

	db    *postgres.DB
	redis *redisclient.Client
}

// OpenStores connects the configured backend. Postgres schemas are migrated.
func OpenStores(ctx context.Context, cfg Config) (*Stores, error) {
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis storage", "prefix", cfg.Redis.Prefix)
		return &Stores{
			Queue: redisclient.NewQueueRepo(rc),
			Cache: redisclient.NewCacheRepo(rc, cfg.Cache.Retention),
			redis: rc,
		}, nil

	case config.StoragePostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return &Stores{
			Queue: postgres.NewQueueRepo(db),
			Cache: postgres.NewCacheRepo(db),
			db:    db,
		}, nil

	case config.StorageMemory, "":
		store := memory.NewMemoryStorage()
		slog.Info("Using Memory storage")
		return &Stores{
			Queue: memory.NewQueueRepo(store),
			Cache: memory.NewCacheRepo(store),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// StartMetricsCollector reports connection pool usage until ctx is done.
func (s *Stores) StartMetricsCollector(ctx context.Context) {
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
}

// Health pings the backend.
func (s *Stores) Health(ctx context.Context) error {
	switch {
	case s.db != nil:
		return s.db.Health(ctx)
	case s.redis != nil:
		return s.redis.Health(ctx)
	}
	return nil
}

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
