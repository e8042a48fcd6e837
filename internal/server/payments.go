package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/railzwaylabs/insightpass/internal/payment/webhook"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes   = 1 << 20
	headerStripeSignature = "Stripe-Signature"
)

// CreatePaymentIntent
// POST /api/payments/intents
func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req paymentdomain.IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.IdempotencyKey = resolveIdempotencyKey(c, req.IdempotencyKey)

	resp, err := s.issuer.CreateIntent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}

// HandleStripeWebhook
// POST /api/payments/webhook
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhook.IngestWebhook(c.Request.Context(), payload, c.GetHeader(headerStripeSignature))
	if err != nil {
		if !webhook.IsClientError(err) {
			s.log.Error("webhook delivery failed; provider will retry", zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}
	s.log.Debug("webhook delivery handled", zap.String("outcome", string(outcome)))
	respondReceived(c)
}

// VerifyPayment
// POST /api/payments/verify
func (s *Server) VerifyPayment(c *gin.Context) {
	var req paymentdomain.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.verifier.Verify(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, res)
}
