package domain

import (
	"context"
	"time"
)

// Provider is the payment provider surface the issuer, verifier and webhook
// reconciler depend on.
type Provider interface {
	// GetCustomer returns ErrCustomerNotFound when the customer is unknown.
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreateEphemeralKey(ctx context.Context, customerID string) (*EphemeralKey, error)
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// ConstructEvent verifies signature against the webhook secret and parses
	// payload. Verification failures return ErrInvalidSignature.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}

type Customer struct {
	ID      string
	Deleted bool
}

type CustomerParams struct {
	Metadata map[string]string
}

type EphemeralKey struct {
	ID        string
	Secret    string
	ExpiresAt time.Time
}

type IntentParams struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	CustomerID   string
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

func (pi *PaymentIntent) Succeeded() bool {
	return pi != nil && pi.Status == PaymentIntentStatusSucceeded
}

type Event struct {
	ID            string
	Type          string
	Created       time.Time
	PaymentIntent *PaymentIntent
}
