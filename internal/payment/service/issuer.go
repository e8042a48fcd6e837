package service

import (
	"context"
	"errors"
	"strings"

	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/railzwaylabs/insightpass/internal/ratelimit"
	"github.com/railzwaylabs/insightpass/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type IssuerParams struct {
	fx.In

	Provider  domain.Provider
	Repo      entdomain.Repository
	Limiter   ratelimit.Limiter
	Validator *validation.Validator
	Log       *zap.Logger
	Tracer    trace.Tracer `optional:"true"`
}

// Issuer creates provider payment intents that carry everything the webhook
// needs to materialize the purchase later.
type Issuer struct {
	provider  domain.Provider
	repo      entdomain.Repository
	limiter   ratelimit.Limiter
	validator *validation.Validator
	log       *zap.Logger
	tracer    trace.Tracer
}

func NewIssuer(p IssuerParams) domain.IntentIssuer {
	return newIssuer(p)
}

func newIssuer(p IssuerParams) *Issuer {
	tracer := p.Tracer
	if tracer == nil {
		tracer = observability.DefaultTracer()
	}
	return &Issuer{
		provider:  p.Provider,
		repo:      p.Repo,
		limiter:   p.Limiter,
		validator: p.Validator,
		log:       p.Log.Named("payment.issuer"),
		tracer:    tracer,
	}
}

func (s *Issuer) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.CreateIntent")
	defer span.End()

	req = normalizeIntentRequest(req)
	if err := s.validator.Struct(req); err != nil {
		observability.PaymentIntentsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	plan, _ := entdomain.ParsePlanID(req.PlanID)
	span.SetAttributes(attribute.String("plan_id", plan.String()))

	if err := s.admit(ctx, req.Identifier()); err != nil {
		observability.PaymentIntentsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	owner := entdomain.OwnerFor(req.DeviceID, req.UserID)
	customerID, err := s.resolveCustomer(ctx, owner, req)
	if err != nil {
		return nil, s.fail(span, err)
	}

	key, err := s.provider.CreateEphemeralKey(ctx, customerID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	params := domain.IntentParams{
		Amount:     req.Amount,
		Currency:   req.Currency,
		CustomerID: customerID,
		Metadata:   intentMetadata(plan, req),
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = req.DeviceID + ":" + req.IdempotencyKey
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, s.fail(span, err)
	}

	observability.PaymentIntentsTotal.WithLabelValues("created").Inc()
	s.log.Info("payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("customer_id", customerID),
		zap.String("plan_id", plan.String()),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency))

	return &domain.IntentResponse{
		ClientSecret:       intent.ClientSecret,
		EphemeralKeySecret: key.Secret,
		CustomerID:         customerID,
		PaymentIntentID:    intent.ID,
	}, nil
}

// admit fails open when the limiter itself errors.
func (s *Issuer) admit(ctx context.Context, identifier string) error {
	decision, err := s.limiter.Check(ctx, identifier)
	if err != nil {
		s.log.Warn("rate limiter error; allowing request", zap.String("identifier", identifier), zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return &domain.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// resolveCustomer reuses the owner's last customer unless it has been
// deleted upstream, otherwise creates a new one tagged with the owner.
func (s *Issuer) resolveCustomer(ctx context.Context, owner entdomain.Owner, req domain.IntentRequest) (string, error) {
	existing, err := s.repo.LatestCustomerID(ctx, owner)
	if err != nil {
		return "", err
	}

	if existing != "" {
		c, err := s.provider.GetCustomer(ctx, existing)
		switch {
		case err == nil && !c.Deleted:
			return c.ID, nil
		case err == nil && c.Deleted, errors.Is(err, domain.ErrCustomerNotFound):
			s.log.Info("stored customer no longer usable; creating a new one",
				zap.String("customer_id", existing),
				zap.String("owner", owner.String()))
		default:
			return "", err
		}
	}

	md := map[string]string{domain.MetadataDeviceID: req.DeviceID}
	if req.UserID != "" {
		md[domain.MetadataUserID] = req.UserID
	}
	c, err := s.provider.CreateCustomer(ctx, domain.CustomerParams{Metadata: md})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Issuer) fail(span trace.Span, err error) error {
	outcome := "error"
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		outcome = "provider_" + string(pe.Kind)
	}
	observability.PaymentIntentsTotal.WithLabelValues(outcome).Inc()
	span.RecordError(err)
	s.log.Error("payment intent creation failed", zap.Error(err))
	return err
}

func normalizeIntentRequest(req domain.IntentRequest) domain.IntentRequest {
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	req.PlanID = strings.TrimSpace(req.PlanID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return req
}

func intentMetadata(plan entdomain.PlanID, req domain.IntentRequest) map[string]string {
	md := map[string]string{
		domain.MetadataPlanID:   plan.String(),
		domain.MetadataDeviceID: req.DeviceID,
	}
	if req.UserID != "" {
		md[domain.MetadataUserID] = req.UserID
	}
	if plan == entdomain.PlanOneTime && req.ChatID != nil {
		md[domain.MetadataChatID] = strings.TrimSpace(*req.ChatID)
	}
	return md
}
