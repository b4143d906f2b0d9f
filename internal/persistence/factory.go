package persistence

import (
	"context"
	"fmt"
	"time"

	"appevents/internal/config"
	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/bootstrap"
	"appevents/pkg/migrations"
)

// Open connects the configured backend and wraps it with metrics and, when
// enabled, a circuit breaker.
func Open(ctx context.Context, cfg config.StoreConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) (Store, error) {
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	store = NewInstrumentedStore(store, cfg.Backend)

	if cfg.CircuitBreaker {
		store = NewCircuitBreakerStore(store, "store-"+cfg.Backend, cbCfg)
	}

	log.Infow("Persistence store ready", "backend", cfg.Backend, "circuit_breaker", cfg.CircuitBreaker)
	return store, nil
}

func openBackend(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Store, error) {
	connector := bootstrap.NewDatabaseConnector(cfg, log)

	switch cfg.Backend {
	case "", constants.StoreBackendMemory:
		return NewMemoryStore(), nil

	case constants.StoreBackendFile:
		return NewFileStore(cfg.File.Dir)

	case constants.StoreBackendRedis:
		client, err := connector.InitRedis(ctx)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		return NewRedisStore(client, cfg.KeyPrefix, ttl), nil

	case constants.StoreBackendPostgres:
		db, err := connector.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := RunPostgresMigrations(db); err != nil {
				db.Close()
				return nil, err
			}
			log.Info("PostgreSQL migrations applied")
		}
		return NewPostgresStore(db, cfg.KeyPrefix), nil

	case constants.StoreBackendMongoDB:
		client, err := connector.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		collection := cfg.MongoDB.Collection
		if collection == "" {
			collection = constants.DefaultMongoCollection
		}
		if err := migrations.EnsureBlobCollection(ctx, client.Database(cfg.MongoDB.Database), collection); err != nil {
			client.Disconnect(ctx)
			return nil, err
		}
		return NewMongoStore(client, cfg.MongoDB.Database, collection, cfg.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
