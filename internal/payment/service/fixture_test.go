package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/entitlement/entitlementtest"
	"github.com/railzwaylabs/insightpass/internal/entitlement/repository"
	"github.com/railzwaylabs/insightpass/internal/payment/paymenttest"
	"github.com/railzwaylabs/insightpass/internal/ratelimit"
	"github.com/railzwaylabs/insightpass/internal/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	deviceID = "6f1c2a3e-8b4d-4c1e-9f2a-1b2c3d4e5f60"
	userID   = "0a8e4c1d-2b3f-4a5e-8c7d-9e0f1a2b3c4d"
)

var now = time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC)

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     clock.Clock
	repo      entdomain.Repository
	provider  *paymenttest.Provider
	validator *validation.Validator
}

func newFixture(t *testing.T) *fixture {
	db := entitlementtest.OpenDB(t)
	node := entitlementtest.Node(t)
	clk := clock.Fixed(now)
	return &fixture{
		db:       db,
		node:     node,
		clock:    clk,
		repo:     repository.New(repository.Params{DB: db, Node: node, Clock: clk}),
		provider: paymenttest.NewProvider(),
		validator: validation.NewWithPayments(config.PaymentsConfig{
			Currencies: []string{"usd", "eur"},
			MinAmount:  50,
			MaxAmount:  100000,
		}),
	}
}

func (f *fixture) materializer() *Materializer {
	return NewMaterializer(MaterializerParams{Repo: f.repo, Clock: f.clock, Log: zap.NewNop()})
}

func (f *fixture) issuer(limiter ratelimit.Limiter) *Issuer {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.Static(time.Minute, 100), f.clock)
	}
	return newIssuer(IssuerParams{
		Provider:  f.provider,
		Repo:      f.repo,
		Limiter:   limiter,
		Validator: f.validator,
		Log:       zap.NewNop(),
	})
}

func (f *fixture) verifier() *ManualVerifier {
	return newVerifier(VerifierParams{
		Provider:     f.provider,
		Repo:         f.repo,
		Materializer: f.materializer(),
		Validator:    f.validator,
		Log:          zap.NewNop(),
	})
}

func (f *fixture) rows(t *testing.T) []entdomain.Entitlement {
	t.Helper()
	var out []entdomain.Entitlement
	if err := f.db.Order("id").Find(&out).Error; err != nil {
		t.Fatalf("list entitlements: %v", err)
	}
	return out
}
