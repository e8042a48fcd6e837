package service

import (
	"context"
	"strings"

	"github.com/railzwaylabs/insightpass/internal/clock"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/railzwaylabs/insightpass/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	SourceWebhook  = "webhook"
	SourceVerifier = "verifier"
)

// Materialization is everything needed to turn a settled payment intent into
// an entitlement row.
type Materialization struct {
	Source string
	Intent *domain.PaymentIntent
	Plan   entdomain.PlanID
	Owner  entdomain.Owner
	// ChatID is only stored for one-time plans.
	ChatID string
}

type MaterializerParams struct {
	fx.In

	Repo  entdomain.Repository
	Clock clock.Clock
	Log   *zap.Logger
}

// Materializer is the single write path shared by the webhook and the manual
// verifier. Both rely on the store's uniqueness on the payment reference.
type Materializer struct {
	repo  entdomain.Repository
	clock clock.Clock
	log   *zap.Logger
}

func NewMaterializer(p MaterializerParams) *Materializer {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Materializer{repo: p.Repo, clock: c, log: p.Log.Named("payment.materializer")}
}

func (m *Materializer) Materialize(ctx context.Context, in Materialization) (entdomain.InsertResult, error) {
	if in.Intent == nil || strings.TrimSpace(in.Intent.ID) == "" {
		return entdomain.InsertResult{}, entdomain.ErrMissingPaymentIntent
	}

	now := m.clock.Now(ctx)
	expiresAt, err := in.Plan.ExpiresAt(now)
	if err != nil {
		return entdomain.InsertResult{}, err
	}

	e := &entdomain.Entitlement{
		PlanID:                in.Plan,
		StripePaymentIntentID: in.Intent.ID,
		Status:                entdomain.StatusActive,
		PurchasedAt:           now,
		ExpiresAt:             expiresAt,
		Metadata:              metadataSnapshot(in.Intent.Metadata),
	}
	e.SetOwner(in.Owner)
	if customerID := strings.TrimSpace(in.Intent.CustomerID); customerID != "" {
		e.StripeCustomerID = &customerID
	}
	if chatID := strings.TrimSpace(in.ChatID); chatID != "" && in.Plan == entdomain.PlanOneTime {
		e.ChatID = &chatID
	}

	res, err := m.repo.Insert(ctx, e)
	if err != nil {
		observability.EntitlementsMaterializedTotal.WithLabelValues(in.Plan.String(), in.Source, "error").Inc()
		return entdomain.InsertResult{}, err
	}
	observability.EntitlementsMaterializedTotal.WithLabelValues(in.Plan.String(), in.Source, res.Outcome.String()).Inc()

	m.log.Info("entitlement materialized",
		zap.String("source", in.Source),
		zap.String("payment_intent_id", in.Intent.ID),
		zap.String("plan_id", in.Plan.String()),
		zap.String("owner", in.Owner.String()),
		zap.String("outcome", res.Outcome.String()),
		zap.Int64("entitlement_id", res.ID.Int64()))
	return res, nil
}

// OwnerFromMetadata resolves the owner recorded on the intent at issue time.
func OwnerFromMetadata(md map[string]string) (entdomain.Owner, error) {
	deviceID := strings.TrimSpace(md[domain.MetadataDeviceID])
	if deviceID == "" {
		return entdomain.Owner{}, domain.ErrMissingMetadata
	}
	return entdomain.OwnerFor(deviceID, md[domain.MetadataUserID]), nil
}

func metadataSnapshot(md map[string]string) datatypes.JSONMap {
	if len(md) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
