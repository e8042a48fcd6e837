package scheduler

import (
	"context"
	"time"

	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Invoke(Start),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Repo  domain.Repository
	Clock clock.Clock
	Log   *zap.Logger
}

// Scheduler runs periodic maintenance over the entitlement store. Access
// checks already expire rows lazily, so a missed run only delays the
// status change.
type Scheduler struct {
	interval time.Duration
	repo     domain.Repository
	clock    clock.Clock
	log      *zap.Logger
}

func New(p Params) *Scheduler {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		interval: p.Cfg.Scheduler.ExpiryInterval,
		repo:     p.Repo,
		clock:    c,
		log:      p.Log.Named("scheduler"),
	}
}

// ExpireSubscriptionsJob moves lapsed weekly and monthly entitlements to
// expired.
func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context) (int64, error) {
	now := s.clock.Now(ctx)
	n, err := s.repo.ExpireDue(ctx, now)
	if err != nil {
		s.log.Error("expire subscriptions failed", zap.Time("cutoff", now), zap.Error(err))
		return 0, err
	}
	if n > 0 {
		observability.ScheduledExpirationsTotal.Add(float64(n))
		s.log.Info("subscriptions expired", zap.Time("cutoff", now), zap.Int64("count", n))
	}
	return n, nil
}

// RunForever runs the jobs on their interval until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("expiry job disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_, _ = s.ExpireSubscriptionsJob(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func Start(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.RunForever(ctx)
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
