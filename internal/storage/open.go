package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/db"
)

// Open returns the store selected by cfg.Driver and a function releasing it.
// Keys idle for longer than ttl may be dropped by the memory and redis drivers.
func Open(ctx context.Context, cfg config.StorageConfig, ttl time.Duration, log *zap.Logger) (Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-memory storage, visitor state is lost on restart")
		return NewMemoryStore(ttl), func() {}, nil

	case "file":
		s, err := OpenBoltStore(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using file storage", zap.String("path", cfg.FilePath))
		return s, func() { _ = s.Close() }, nil

	case "redis":
		s, err := NewRedisStore(ctx, cfg.RedisURL, ttl)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using redis storage")
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		database, err := db.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		s := NewPostgresStore(database.Pool)
		if err := s.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("migrate storage: %w", err)
		}
		return s, database.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
