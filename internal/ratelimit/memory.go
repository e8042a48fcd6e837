package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/railzwaylabs/insightpass/internal/observability"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process. Under several instances the
// effective limit is multiplied, which errs on the permissive side.
type MemoryLimiter struct {
	mu       sync.Mutex
	settings Settings
	clock    clock.Clock
	windows  map[string]*window
}

func NewMemoryLimiter(settings Settings, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLimiter{
		settings: settings,
		clock:    clk,
		windows:  make(map[string]*window),
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, identifier string) (Decision, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Decision{}, ErrMissingIdentifier
	}
	cfg := l.settings.Get()
	now := l.clock.Now(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(cfg.Window)}
		l.windows[identifier] = w
	}

	if w.count >= cfg.MaxRequests {
		observability.RateLimitDecisionsTotal.WithLabelValues(config.RateLimitBackendMemory, "denied").Inc()
		return Decision{Allowed: false, Remaining: 0, RetryAfter: w.resetAt.Sub(now)}, nil
	}

	w.count++
	observability.RateLimitDecisionsTotal.WithLabelValues(config.RateLimitBackendMemory, "allowed").Inc()
	return Decision{Allowed: true, Remaining: cfg.MaxRequests - w.count}, nil
}

// Cleanup drops windows whose reset time has passed and returns how many
// were removed. Correctness does not depend on it.
func (l *MemoryLimiter) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
