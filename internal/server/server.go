package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/insightpass/internal/config"
	entservice "github.com/railzwaylabs/insightpass/internal/entitlement/service"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Issuer   paymentdomain.IntentIssuer
	Verifier paymentdomain.Verifier
	Webhook  paymentdomain.WebhookService
	Access   *entservice.AccessResolver
	Assigner *entservice.Assigner
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	issuer   paymentdomain.IntentIssuer
	verifier paymentdomain.Verifier
	webhook  paymentdomain.WebhookService
	access   *entservice.AccessResolver
	assigner *entservice.Assigner
	engine   *gin.Engine
}

func NewServer(p Params) *Server {
	if !p.Cfg.IsDevelopment() && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      p.Cfg,
		log:      p.Log.Named("server"),
		db:       p.DB,
		issuer:   p.Issuer,
		verifier: p.Verifier,
		webhook:  p.Webhook,
		access:   p.Access,
		assigner: p.Assigner,
	}

	engine := gin.New()
	engine.Use(s.recovery(), s.requestLogger(), corsMiddleware(p.Cfg.Server.AllowedOrigins))
	s.engine = engine
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		payments := api.Group("/payments")
		payments.POST("/intents", s.CreatePaymentIntent)
		payments.POST("/webhook", s.HandleStripeWebhook)
		payments.POST("/verify", s.VerifyPayment)

		api.GET("/access", s.CheckAccess)
		api.POST("/access/assign", s.AssignChat)
	}
}
