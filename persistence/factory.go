package persistence

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/config"
)

// Open creates an ExecutionStore from configuration.
func Open(cfg config.StoreConfig, logger *zap.Logger) (ExecutionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil

	case config.StoreSQLite, config.StoreMySQL, config.StorePostgres:
		dialector, err := OpenDialector(string(cfg.Backend), cfg.DSN)
		if err != nil {
			return nil, err
		}
		pool := PoolConfig{
			MaxIdleConns:    cfg.Pool.MaxIdleConns,
			MaxOpenConns:    cfg.Pool.MaxOpenConns,
			ConnMaxLifetime: cfg.Pool.ConnMaxLifetime.Std(),
			ConnMaxIdleTime: cfg.Pool.ConnMaxIdleTime.Std(),
		}
		return NewGormStore(dialector, pool, logger)

	case config.StoreRedis:
		return NewRedisStore(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Std(),
		})

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
