package payment

import (
	"github.com/railzwaylabs/insightpass/internal/payment/adapters/stripe"
	paymentservice "github.com/railzwaylabs/insightpass/internal/payment/service"
	"github.com/railzwaylabs/insightpass/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(stripe.NewProvider),
	fx.Provide(paymentservice.NewMaterializer),
	fx.Provide(paymentservice.NewIssuer),
	fx.Provide(paymentservice.NewVerifier),
	fx.Provide(webhook.NewService),
)
