package service

import (
	"context"
	"strings"

	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AccessResolver decides whether an owner may view content for a chat.
type AccessResolver struct {
	repo   domain.Repository
	log    *zap.Logger
	clock  clock.Clock
	tracer trace.Tracer
}

func NewAccessResolver(p Params) *AccessResolver {
	return &AccessResolver{
		repo:   p.Repo,
		log:    p.Log.Named("entitlement.access"),
		clock:  p.clock(),
		tracer: p.tracer(),
	}
}

// HasAccess scans the owner's paid active entitlements newest first and
// grants on the first match. An empty chatID means no chat context, which
// only subscriptions can satisfy. Stale subscriptions met along the way are
// moved to expired.
func (r *AccessResolver) HasAccess(ctx context.Context, owner domain.Owner, chatID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.HasAccess",
		trace.WithAttributes(attribute.String("owner.kind", string(owner.Kind))))
	defer span.End()

	if err := owner.Validate(); err != nil {
		return false, err
	}
	chatID = strings.TrimSpace(chatID)

	rows, err := r.repo.FindActiveByOwner(ctx, owner, domain.ActiveFilter{PaidOnly: true})
	if err != nil {
		observability.AccessChecksTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return false, err
	}

	now := r.clock.Now(ctx)
	for i := range rows {
		e := &rows[i]
		if !e.Paid() {
			continue
		}

		switch e.PlanID {
		case domain.PlanOneTime:
			if chatID == "" {
				continue
			}
			if !e.Assigned() || *e.ChatID == chatID {
				return r.grant(span, e), nil
			}

		case domain.PlanWeekly, domain.PlanMonthly:
			if e.ExpiresAt == nil {
				r.log.Warn("subscription entitlement without expiry",
					zap.Int64("entitlement_id", e.ID.Int64()),
					zap.String("plan_id", e.PlanID.String()))
				continue
			}
			if now.Before(*e.ExpiresAt) {
				return r.grant(span, e), nil
			}
			r.expire(ctx, e)

		default:
			r.log.Warn("entitlement with unknown plan",
				zap.Int64("entitlement_id", e.ID.Int64()),
				zap.String("plan_id", e.PlanID.String()))
		}
	}

	observability.AccessChecksTotal.WithLabelValues("denied").Inc()
	span.SetAttributes(attribute.Bool("access.granted", false))
	return false, nil
}

func (r *AccessResolver) grant(span trace.Span, e *domain.Entitlement) bool {
	observability.AccessChecksTotal.WithLabelValues("granted").Inc()
	span.SetAttributes(
		attribute.Bool("access.granted", true),
		attribute.String("plan_id", e.PlanID.String()),
	)
	return true
}

// expire is best effort. A concurrent reader may already have moved the row,
// and a failed write only means the next read tries again.
func (r *AccessResolver) expire(ctx context.Context, e *domain.Entitlement) {
	changed, err := r.repo.UpdateStatus(ctx, e.ID, domain.StatusExpired)
	if err != nil {
		r.log.Warn("lazy expiry failed",
			zap.Int64("entitlement_id", e.ID.Int64()),
			zap.Error(err))
		return
	}
	if changed {
		observability.LazyExpirationsTotal.Inc()
		r.log.Info("entitlement expired",
			zap.Int64("entitlement_id", e.ID.Int64()),
			zap.String("plan_id", e.PlanID.String()),
			zap.Time("expires_at", *e.ExpiresAt))
	}
}
