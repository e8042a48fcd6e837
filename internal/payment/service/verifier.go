package service

import (
	"context"
	"strings"

	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/railzwaylabs/insightpass/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reasonNotSucceeded = "payment_not_succeeded"

type VerifierParams struct {
	fx.In

	Provider     domain.Provider
	Repo         entdomain.Repository
	Materializer *Materializer
	Validator    *validation.Validator
	Log          *zap.Logger
	Tracer       trace.Tracer `optional:"true"`
}

// ManualVerifier is the client-triggered fallback used when the webhook has
// not materialized a purchase in time. The provider is the source of truth;
// nothing the client declares about amount or status is trusted.
type ManualVerifier struct {
	provider     domain.Provider
	repo         entdomain.Repository
	materializer *Materializer
	validator    *validation.Validator
	log          *zap.Logger
	tracer       trace.Tracer
}

func NewVerifier(p VerifierParams) domain.Verifier {
	return newVerifier(p)
}

func newVerifier(p VerifierParams) *ManualVerifier {
	tracer := p.Tracer
	if tracer == nil {
		tracer = observability.DefaultTracer()
	}
	return &ManualVerifier{
		provider:     p.Provider,
		repo:         p.Repo,
		materializer: p.Materializer,
		validator:    p.Validator,
		log:          p.Log.Named("payment.verifier"),
		tracer:       tracer,
	}
}

func (s *ManualVerifier) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Verify")
	defer span.End()

	req.PaymentIntentID = strings.TrimSpace(req.PaymentIntentID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	if err := s.validator.Struct(req); err != nil {
		observability.ManualVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("payment_intent_id", req.PaymentIntentID))

	existing, err := s.repo.FindByPaymentIntentID(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if existing != nil {
		observability.ManualVerificationsTotal.WithLabelValues("exists").Inc()
		return &domain.VerifyResult{Success: true, EntitlementExists: true}, nil
	}

	intent, err := s.provider.GetPaymentIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !intent.Succeeded() {
		observability.ManualVerificationsTotal.WithLabelValues("pending").Inc()
		s.log.Info("payment not yet succeeded",
			zap.String("payment_intent_id", intent.ID),
			zap.String("status", intent.Status))
		return &domain.VerifyResult{Success: false, Reason: reasonNotSucceeded, Status: intent.Status}, nil
	}

	if intent.Metadata[domain.MetadataPlanID] != req.PlanID || intent.Metadata[domain.MetadataDeviceID] != req.DeviceID {
		observability.ManualVerificationsTotal.WithLabelValues("mismatch").Inc()
		s.log.Warn("verification metadata mismatch",
			zap.String("payment_intent_id", intent.ID),
			zap.String("declared_plan_id", req.PlanID),
			zap.String("declared_device_id", req.DeviceID))
		return nil, domain.ErrMetadataMismatch
	}

	plan, err := entdomain.ParsePlanID(req.PlanID)
	if err != nil {
		return nil, err
	}
	owner, err := OwnerFromMetadata(intent.Metadata)
	if err != nil {
		return nil, err
	}

	m := Materialization{Source: SourceVerifier, Intent: intent, Plan: plan, Owner: owner}
	if req.ChatID != nil {
		m.ChatID = *req.ChatID
	}
	res, err := s.materializer.Materialize(ctx, m)
	if err != nil {
		return nil, s.fail(span, err)
	}

	if !res.Created() {
		// The webhook won the race between our lookup and insert.
		observability.ManualVerificationsTotal.WithLabelValues("exists").Inc()
		return &domain.VerifyResult{Success: true, EntitlementExists: true}, nil
	}
	observability.ManualVerificationsTotal.WithLabelValues("created").Inc()
	return &domain.VerifyResult{Success: true, EntitlementCreated: true}, nil
}

func (s *ManualVerifier) fail(span trace.Span, err error) error {
	observability.ManualVerificationsTotal.WithLabelValues("error").Inc()
	span.RecordError(err)
	s.log.Error("manual verification failed", zap.Error(err))
	return err
}
