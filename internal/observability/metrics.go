package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "insightpass"

var (
	// WebhookEventsTotal counts provider webhook deliveries by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "webhook_events_total",
		Help:      "Provider webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "webhook_duration_seconds",
		Help:      "Provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// EntitlementsMaterializedTotal counts entitlement writes by plan, path and result.
	EntitlementsMaterializedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "materialized_total",
		Help:      "Entitlement create attempts by plan, source path and result.",
	}, []string{"plan", "source", "result"})

	// PaymentIntentsTotal counts intent issuance outcomes.
	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "intents_total",
		Help:      "Payment intent issuance attempts by outcome.",
	}, []string{"outcome"})

	// ManualVerificationsTotal counts fallback verification outcomes.
	ManualVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "manual_verifications_total",
		Help:      "Manual verification outcomes.",
	}, []string{"outcome"})

	// AccessChecksTotal counts access decisions.
	AccessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "access_checks_total",
		Help:      "Access resolver decisions by result.",
	}, []string{"result"})

	// LazyExpirationsTotal counts subscriptions moved to expired on read.
	LazyExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "lazy_expirations_total",
		Help:      "Subscription entitlements transitioned to expired during access checks.",
	})

	// ScheduledExpirationsTotal counts subscriptions moved to expired by the
	// background sweep.
	ScheduledExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "scheduled_expirations_total",
		Help:      "Subscription entitlements transitioned to expired by the scheduler.",
	})

	// RateLimitDecisionsTotal counts limiter decisions.
	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by backend and result.",
	}, []string{"backend", "result"})
)
