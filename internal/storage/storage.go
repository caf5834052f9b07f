package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
	"github.com/guild-achievements/internal/mongo"
	"github.com/guild-achievements/internal/postgres"
	"github.com/guild-achievements/internal/redis"
)

// Open creates the document backend selected by cfg.Storage.Backend.
// This is the only place that knows about every backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docstore.Backend, error) {
	logger = logger.With("backend", cfg.Storage.Backend)

	switch cfg.Storage.Backend {
	case config.BackendJSON:
		return docstore.NewJSONFile(cfg.Storage.JSON.Path, logger)

	case config.BackendRedis:
		return redis.NewDocumentStore(&cfg.Redis, logger)

	case config.BackendMongo:
		return mongo.NewDocumentStore(ctx, &cfg.Mongo, logger)

	case config.BackendPostgres:
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, nil

	default:
		return nil, domain.UnknownBackend(cfg.Storage.Backend)
	}
}
