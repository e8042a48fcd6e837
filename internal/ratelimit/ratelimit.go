package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/railzwaylabs/insightpass/internal/config"
)

var ErrMissingIdentifier = errors.New("missing_identifier")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per caller identifier using a fixed
// window. Backends degrade to allowing traffic, never to blocking it.
type Limiter interface {
	Check(ctx context.Context, identifier string) (Decision, error)
}

// Settings supplies the current window and request budget. It is read on
// every check so reloaded values apply to the next window.
type Settings interface {
	Get() config.RateLimitConfig
}

type staticSettings config.RateLimitConfig

func (s staticSettings) Get() config.RateLimitConfig { return config.RateLimitConfig(s) }

// Static wraps fixed settings, mostly for tests.
func Static(window time.Duration, maxRequests int) Settings {
	return staticSettings{Window: window, MaxRequests: maxRequests}
}

// RetryAfterSeconds rounds a wait up to whole seconds for the Retry-After
// header, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (d Decision) RetryAfterSeconds() int {
	return RetryAfterSeconds(d.RetryAfter)
}
