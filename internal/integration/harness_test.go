package integration

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/insightpass/internal/checkout"
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/entitlement/entitlementtest"
	"github.com/railzwaylabs/insightpass/internal/entitlement/repository"
	entservice "github.com/railzwaylabs/insightpass/internal/entitlement/service"
	"github.com/railzwaylabs/insightpass/internal/identity"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/railzwaylabs/insightpass/internal/payment/paymenttest"
	paymentservice "github.com/railzwaylabs/insightpass/internal/payment/service"
	"github.com/railzwaylabs/insightpass/internal/payment/webhook"
	"github.com/railzwaylabs/insightpass/internal/ratelimit"
	"github.com/railzwaylabs/insightpass/internal/server"
	"github.com/railzwaylabs/insightpass/internal/validation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	deviceD1 = "11111111-1111-4111-8111-111111111111"
	deviceD2 = "22222222-2222-4222-8222-222222222222"
	deviceD3 = "33333333-3333-4333-8333-333333333333"
	userU1   = "99999999-9999-4999-8999-999999999999"
)

var now = time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)

// stack is the whole service behind a real HTTP listener, with the payment
// provider faked in memory.
type stack struct {
	t        *testing.T
	db       *gorm.DB
	node     *snowflake.Node
	repo     entdomain.Repository
	provider *paymenttest.Provider
	access   *entservice.AccessResolver
	assigner *entservice.Assigner
	migrator *identity.Migrator
	http     *httptest.Server
	client   *checkout.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Payments: config.PaymentsConfig{Currencies: []string{"usd", "eur"}, MinAmount: 50, MaxAmount: 100000},
	}
	log := zap.NewNop()
	db := entitlementtest.OpenDB(t)
	node := entitlementtest.Node(t)
	clk := clock.Fixed(now)
	repo := repository.New(repository.Params{DB: db, Node: node, Clock: clk})
	provider := paymenttest.NewProvider()
	validator := validation.New(cfg)
	mat := paymentservice.NewMaterializer(paymentservice.MaterializerParams{Repo: repo, Clock: clk, Log: log})
	entParams := entservice.Params{Repo: repo, Log: log, Clock: clk}
	access := entservice.NewAccessResolver(entParams)
	assigner := entservice.NewAssigner(entParams)

	srv := server.NewServer(server.Params{
		Cfg: cfg,
		Log: log,
		DB:  db,
		Issuer: paymentservice.NewIssuer(paymentservice.IssuerParams{
			Provider:  provider,
			Repo:      repo,
			Limiter:   ratelimit.NewMemoryLimiter(ratelimit.Static(time.Minute, 100), clk),
			Validator: validator,
			Log:       log,
		}),
		Verifier: paymentservice.NewVerifier(paymentservice.VerifierParams{
			Provider:     provider,
			Repo:         repo,
			Materializer: mat,
			Validator:    validator,
			Log:          log,
		}),
		Webhook: webhook.NewService(webhook.Params{
			Provider:     provider,
			Repo:         repo,
			Materializer: mat,
			Log:          log,
			Cfg:          cfg,
		}),
		Access:   access,
		Assigner: assigner,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{
		t:        t,
		db:       db,
		node:     node,
		repo:     repo,
		provider: provider,
		access:   access,
		assigner: assigner,
		migrator: identity.NewMigrator(identity.Params{Repo: repo, Log: log}),
		http:     ts,
		client:   checkout.NewClient(ts.URL, ts.Client()),
	}
}

// deliverWebhook posts a signed payment_intent.succeeded event for id.
func (s *stack) deliverWebhook(id string) int {
	s.t.Helper()
	payload, sig := s.signedSucceeded(id)
	status, err := s.postWebhook(payload, sig)
	require.NoError(s.t, err)
	return status
}

func (s *stack) signedSucceeded(id string) ([]byte, string) {
	s.t.Helper()
	pi := s.provider.Intent(id)
	require.NotNil(s.t, pi, "unknown intent %s", id)
	return paymenttest.SignedEvent(s.t, paymentdomain.EventTypePaymentIntentSucceeded, pi)
}

func (s *stack) postWebhook(payload []byte, sig string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, s.http.URL+"/api/payments/webhook", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Stripe-Signature", sig)
	resp, err := s.http.Client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *stack) orchestrator(sheet checkout.PaymentSheet) *checkout.Orchestrator {
	return checkout.NewOrchestrator(checkout.Options{
		Intents:  s.client,
		Sheet:    sheet,
		Access:   s.client,
		Verifier: s.client,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
}

func (s *stack) hasAccess(owner entdomain.Owner, chatID string) bool {
	s.t.Helper()
	ok, err := s.client.HasAccess(context.Background(), owner, chatID)
	require.NoError(s.t, err)
	return ok
}

func (s *stack) count() int64 {
	s.t.Helper()
	var n int64
	require.NoError(s.t, s.db.Model(&entdomain.Entitlement{}).Count(&n).Error)
	return n
}

// paySheet completes checkout upstream and, when deliver is set, lets the
// webhook land before polling starts.
type paySheet struct {
	stack   *stack
	deliver bool
	last    string
}

func (p *paySheet) Present(_ context.Context, intent *paymentdomain.IntentResponse) (checkout.SheetResult, error) {
	p.last = intent.PaymentIntentID
	p.stack.provider.Succeed(intent.PaymentIntentID)
	if p.deliver {
		require.Equal(p.stack.t, http.StatusOK, p.stack.deliverWebhook(intent.PaymentIntentID))
	}
	return checkout.SheetCompleted, nil
}

type cancelSheet struct{}

func (cancelSheet) Present(context.Context, *paymentdomain.IntentResponse) (checkout.SheetResult, error) {
	return checkout.SheetCancelled, nil
}

// countingAccess wraps the HTTP client to count polls.
type countingAccess struct {
	inner checkout.AccessChecker
	calls int
}

func (c *countingAccess) HasAccess(ctx context.Context, owner entdomain.Owner, chatID string) (bool, error) {
	c.calls++
	return c.inner.HasAccess(ctx, owner, chatID)
}
