package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(NewLimiter),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Holder    *config.RateLimitHolder
	Clock     clock.Clock
	Log       *zap.Logger
	Redis     *redis.Client `optional:"true"`
}

func NewLimiter(p Params) (Limiter, error) {
	switch p.Config.RateLimit.Backend {
	case config.RateLimitBackendMemory:
		l := NewMemoryLimiter(p.Holder, p.Clock)
		startCleanup(p.Lifecycle, l, p.Holder, p.Clock, p.Log.Named("ratelimit.memory"))
		return l, nil
	case config.RateLimitBackendRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("rate limit backend %q requires a redis client", config.RateLimitBackendRedis)
		}
		return NewRedisLimiter(p.Redis, p.Holder, p.Log), nil
	}
	return nil, fmt.Errorf("unsupported rate limit backend %q", p.Config.RateLimit.Backend)
}

func startCleanup(lc fx.Lifecycle, l *MemoryLimiter, settings Settings, clk clock.Clock, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			interval := settings.Get().CleanupInterval
			if interval <= 0 {
				interval = 5 * time.Minute
			}
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := l.Cleanup(clk.Now(ctx)); n > 0 {
							log.Debug("expired rate limit windows dropped", zap.Int("count", n))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
