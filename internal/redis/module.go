package redis

import (
	"context"

	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

// NewClient builds the shared client. go-redis dials lazily, so the startup
// ping only runs when the redis rate limit backend is selected.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.RateLimit.Backend != config.RateLimitBackendRedis {
				return nil
			}
			if err := client.Ping(ctx).Err(); err != nil {
				// The limiter fails open, so an unreachable redis is not fatal.
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
