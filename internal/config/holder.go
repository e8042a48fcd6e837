package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RateLimitHolder exposes the current rate limit settings. The value is swapped
// when the watched config file changes.
type RateLimitHolder struct {
	current atomic.Pointer[RateLimitConfig]
}

func NewRateLimitHolder(cfg Config) *RateLimitHolder {
	h := &RateLimitHolder{}
	rl := cfg.RateLimit
	h.current.Store(&rl)
	return h
}

func (h *RateLimitHolder) Get() RateLimitConfig {
	return *h.current.Load()
}

func (h *RateLimitHolder) Set(cfg RateLimitConfig) {
	h.current.Store(&cfg)
}

// WatchRateLimit reloads rate limit settings on config file changes. Other
// settings need a restart.
func WatchRateLimit(lc fx.Lifecycle, src *Source, holder *RateLimitHolder, log *zap.Logger) {
	if src == nil || src.file == "" {
		return
	}
	log = log.Named("config.watch")

	src.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(src.v)
		if err != nil {
			log.Warn("ignoring invalid config reload", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.Set(cfg.RateLimit)
		log.Info("rate limit settings reloaded",
			zap.Duration("window", cfg.RateLimit.Window),
			zap.Int("max_requests", cfg.RateLimit.MaxRequests))
	})

	lc.Append(fx.StartHook(func() {
		src.v.WatchConfig()
	}))
}
