package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/migrate"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	Dynamo      DynamoConfig
	Logger      *zap.Logger
}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		log.Info("storage: using in-memory backend")
		return NewMemory(), nil

	case "sqlite", "postgres":
		log.Info("storage: using gorm", zap.String("driver", drv))
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	case "postgrespool":
		log.Info("storage: using pgx pool")
		if cfg.AutoMigrate {
			if err := migrate.Up(ctx, drv, cfg.DSN); err != nil {
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return OpenPostgresPool(ctx, cfg.DSN)

	case "dynamodb":
		log.Info("storage: using dynamodb",
			zap.String("endpoint", cfg.Dynamo.Endpoint),
			zap.String("table_prefix", cfg.Dynamo.TablePrefix))
		client, err := NewDynamoClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, fmt.Errorf("dynamodb config: %w", err)
		}
		st := NewDynamoStorage(client, cfg.Dynamo.TablePrefix)
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
