package service

import (
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo   domain.Repository
	Log    *zap.Logger
	Clock  clock.Clock
	Tracer trace.Tracer `optional:"true"`
}

func (p Params) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return observability.DefaultTracer()
}

func (p Params) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.New()
}
