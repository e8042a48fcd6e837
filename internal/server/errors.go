package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/railzwaylabs/insightpass/internal/ratelimit"
	"github.com/railzwaylabs/insightpass/internal/validation"
)

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrPayloadTooLarge = errors.New("payload_too_large")
	ErrInternal        = errors.New("internal_error")
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

// AbortWithError is the single place handler errors become HTTP responses.
// Anything unrecognized is a 500 with no detail.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	status, body := classifyError(err)
	if status == http.StatusTooManyRequests {
		if seconds := retryAfterSeconds(err); seconds > 0 {
			c.Header("Retry-After", strconv.Itoa(seconds))
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func classifyError(err error) (int, errorResponse) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field}
	}

	var rl *paymentdomain.RateLimitedError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests, errorResponse{Error: "rate_limited"}
	}

	var pe *paymentdomain.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case paymentdomain.ProviderErrorCard, paymentdomain.ProviderErrorInvalid:
			msg := pe.Message
			if msg == "" {
				msg = string(pe.Kind) + "_error"
			}
			return http.StatusBadRequest, errorResponse{Error: msg}
		case paymentdomain.ProviderErrorRateLimited:
			return http.StatusTooManyRequests, errorResponse{Error: "provider_rate_limited"}
		default:
			return http.StatusBadGateway, errorResponse{Error: "payment_provider_unavailable"}
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrMissingSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrMissingMetadata),
		errors.Is(err, paymentdomain.ErrMetadataMismatch),
		errors.Is(err, paymentdomain.ErrPaymentIntentNotFound),
		errors.Is(err, entdomain.ErrInvalidOwner),
		errors.Is(err, entdomain.ErrInvalidChat),
		errors.Is(err, entdomain.ErrInvalidPlan):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorResponse{Error: ErrPayloadTooLarge.Error()}
	case errors.Is(err, paymentdomain.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, errorResponse{Error: paymentdomain.ErrProviderNotConfigured.Error()}
	}
	return http.StatusInternalServerError, errorResponse{Error: ErrInternal.Error()}
}

func retryAfterSeconds(err error) int {
	var rl *paymentdomain.RateLimitedError
	if !errors.As(err, &rl) {
		return 0
	}
	return ratelimit.RetryAfterSeconds(rl.RetryAfter)
}
