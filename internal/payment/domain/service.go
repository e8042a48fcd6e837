package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type IntentIssuer interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error)
}

type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
}

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrMissingSignature      = errors.New("missing_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrMissingMetadata       = errors.New("missing_metadata")
	ErrMetadataMismatch      = errors.New("metadata_mismatch")
	ErrCustomerNotFound      = errors.New("customer_not_found")
	ErrPaymentIntentNotFound = errors.New("payment_intent_not_found")
	ErrProviderNotConfigured = errors.New("provider_not_configured")
)

// RateLimitedError is returned when the caller exhausted its window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate_limited: retry after %s", e.RetryAfter)
}

type ProviderErrorKind string

const (
	ProviderErrorCard        ProviderErrorKind = "card"
	ProviderErrorRateLimited ProviderErrorKind = "rate_limited"
	ProviderErrorInvalid     ProviderErrorKind = "invalid_request"
	ProviderErrorAPI         ProviderErrorKind = "api"
)

// ProviderError wraps an upstream failure with the class the HTTP layer maps
// to a status: card and invalid_request 400, rate_limited 429, api 502.
type ProviderError struct {
	Kind    ProviderErrorKind
	Op      string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Op, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }
