package infra

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/config"
)

// Backends holds the optional PostgreSQL pool and Redis client. A nil field means the
// corresponding URL was not configured.
type Backends struct {
	DB    *pgxpool.Pool
	Cache *redis.Client

	logger    *slog.Logger
	closeOnce sync.Once
}

// Open connects to every configured backend and applies pending migrations.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{logger: logger}

	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
		if err := Migrate(ctx, db, logger); err != nil {
			b.Close()
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Cache = cache
	}
	return b, nil
}

// Close releases the connections. It is safe to call more than once.
func (b *Backends) Close() {
	b.closeOnce.Do(func() {
		if b.Cache != nil {
			if err := b.Cache.Close(); err != nil {
				b.logger.Warn("close redis", "error", err)
			}
		}
		if b.DB != nil {
			b.DB.Close()
		}
	})
}
