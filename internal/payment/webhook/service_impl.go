package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railzwaylabs/insightpass/internal/config"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/railzwaylabs/insightpass/internal/payment/domain"
	paymentservice "github.com/railzwaylabs/insightpass/internal/payment/service"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Provider     domain.Provider
	Repo         entdomain.Repository
	Materializer *paymentservice.Materializer
	Log          *zap.Logger
	Cfg          config.Config
	Tracer       trace.Tracer `optional:"true"`
}

// Service reconciles provider payment events into entitlements. Deliveries
// are at least once, so every path except a genuine failure returns nil.
type Service struct {
	provider     domain.Provider
	repo         entdomain.Repository
	materializer *paymentservice.Materializer
	log          *zap.Logger
	tracer       trace.Tracer
	assignChat   bool
}

func NewService(p Params) domain.WebhookService {
	return newService(p)
}

func newService(p Params) *Service {
	tracer := p.Tracer
	if tracer == nil {
		tracer = observability.DefaultTracer()
	}
	return &Service{
		provider:     p.Provider,
		repo:         p.Repo,
		materializer: p.Materializer,
		log:          p.Log.Named("payment.webhook"),
		tracer:       tracer,
		assignChat:   p.Cfg.Payments.WebhookAssignChat,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte, signature string) (outcome domain.WebhookOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.IngestWebhook")
	defer span.End()

	start := time.Now()
	eventType := "unverified"
	defer func() {
		result := string(outcome)
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		observability.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
		observability.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	event, err := s.provider.ConstructEvent(payload, signature)
	if err != nil {
		s.log.Warn("webhook rejected", zap.Int("payload_size", len(payload)), zap.Error(err))
		return "", err
	}
	eventType = event.Type
	span.SetAttributes(attribute.String("event.type", event.Type), attribute.String("event.id", event.ID))

	if event.Type != domain.EventTypePaymentIntentSucceeded {
		s.log.Debug("webhook event ignored", zap.String("event_id", event.ID), zap.String("event_type", event.Type))
		return domain.WebhookOutcomeIgnored, nil
	}

	outcome, err = s.handleSucceeded(ctx, event)
	if err != nil {
		s.log.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err))
		s.log.Debug("webhook payload", zap.ByteString("payload", maskPayload(payload)))
		return "", err
	}
	return outcome, nil
}

func (s *Service) handleSucceeded(ctx context.Context, event *domain.Event) (domain.WebhookOutcome, error) {
	pi := event.PaymentIntent
	if pi == nil || strings.TrimSpace(pi.ID) == "" {
		return "", domain.ErrInvalidPayload
	}

	rawPlan := strings.TrimSpace(pi.Metadata[domain.MetadataPlanID])
	if rawPlan == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrMissingMetadata, domain.MetadataPlanID)
	}
	owner, err := paymentservice.OwnerFromMetadata(pi.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, domain.MetadataDeviceID)
	}
	plan, err := entdomain.ParsePlanID(rawPlan)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	existing, err := s.repo.FindByPaymentIntentID(ctx, pi.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		s.log.Info("webhook already processed",
			zap.String("event_id", event.ID),
			zap.String("payment_intent_id", pi.ID))
		return domain.WebhookOutcomeDuplicate, nil
	}

	m := paymentservice.Materialization{
		Source: paymentservice.SourceWebhook,
		Intent: pi,
		Plan:   plan,
		Owner:  owner,
	}
	if s.assignChat {
		m.ChatID = pi.Metadata[domain.MetadataChatID]
	}

	res, err := s.materializer.Materialize(ctx, m)
	if err != nil {
		return "", err
	}
	if !res.Created() {
		return domain.WebhookOutcomeDuplicate, nil
	}
	return domain.WebhookOutcomeCreated, nil
}

// IsClientError reports whether err is the sender's fault. Anything else is
// answered with a 5xx so the provider retries.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, domain.ErrMissingSignature) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrMissingMetadata)
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "client_secret", "payment_method_details", "billing_details", "email":
			m[k] = "***"
		default:
			switch nested := v.(type) {
			case map[string]any:
				maskMap(nested)
			case []any:
				for _, item := range nested {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
