package ratelimit

import (
	"context"
	"strings"

	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter shares windows across instances through INCR and PEXPIRE.
// Any redis failure admits the request.
type RedisLimiter struct {
	rdb      *redis.Client
	settings Settings
	log      *zap.Logger
}

func NewRedisLimiter(rdb *redis.Client, settings Settings, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:      rdb,
		settings: settings,
		log:      log.Named("ratelimit.redis"),
	}
}

func (l *RedisLimiter) Check(ctx context.Context, identifier string) (Decision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Decision{}, ErrMissingIdentifier
	}
	cfg := l.settings.Get()
	key := redisKeyPrefix + identifier

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(identifier, cfg, err), nil
	}

	count := incr.Val()
	ttl := pttl.Val()
	if ttl < 0 {
		// First hit of the window, or a key that lost its expiry.
		if err := l.rdb.PExpire(ctx, key, cfg.Window).Err(); err != nil {
			return l.failOpen(identifier, cfg, err), nil
		}
		ttl = cfg.Window
	}

	if count > int64(cfg.MaxRequests) {
		observability.RateLimitDecisionsTotal.WithLabelValues(config.RateLimitBackendRedis, "denied").Inc()
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	observability.RateLimitDecisionsTotal.WithLabelValues(config.RateLimitBackendRedis, "allowed").Inc()
	return Decision{Allowed: true, Remaining: cfg.MaxRequests - int(count)}, nil
}

func (l *RedisLimiter) failOpen(identifier string, cfg config.RateLimitConfig, err error) Decision {
	observability.RateLimitDecisionsTotal.WithLabelValues(config.RateLimitBackendRedis, "error").Inc()
	l.log.Warn("rate limiter unavailable; allowing request",
		zap.String("identifier", identifier),
		zap.Error(err))
	return Decision{Allowed: true, Remaining: cfg.MaxRequests}
}
