package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/railzwaylabs/insightpass/internal/config"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/ephemeralkey"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Options configures an Adapter. Backend is optional and lets tests point
// the SDK at a fake server.
type Options struct {
	SecretKey     string
	WebhookSecret string
	APIVersion    string
	Backend       stripelib.Backend
}

// Adapter implements paymentdomain.Provider with stripe-go. Clients are built
// per adapter so no process-wide stripe.Key is touched.
type Adapter struct {
	webhookSecret string
	apiVersion    string
	hasKey        bool

	customers *customer.Client
	keys      *ephemeralkey.Client
	intents   *paymentintent.Client
}

func New(opts Options) *Adapter {
	backend := opts.Backend
	if backend == nil {
		backend = stripelib.GetBackend(stripelib.APIBackend)
	}
	key := strings.TrimSpace(opts.SecretKey)
	version := strings.TrimSpace(opts.APIVersion)
	if version == "" {
		version = stripelib.APIVersion
	}

	return &Adapter{
		webhookSecret: strings.TrimSpace(opts.WebhookSecret),
		apiVersion:    version,
		hasKey:        key != "",
		customers:     &customer.Client{B: backend, Key: key},
		keys:          &ephemeralkey.Client{B: backend, Key: key},
		intents:       &paymentintent.Client{B: backend, Key: key},
	}
}

func NewProvider(cfg config.Config) paymentdomain.Provider {
	return New(Options{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIVersion:    cfg.Stripe.APIVersion,
	})
}

func (a *Adapter) GetCustomer(ctx context.Context, id string) (*paymentdomain.Customer, error) {
	if !a.hasKey {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	params := &stripelib.CustomerParams{}
	params.Context = ctx

	c, err := a.customers.Get(strings.TrimSpace(id), params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, paymentdomain.ErrCustomerNotFound
		}
		return nil, mapError("get_customer", err)
	}
	return &paymentdomain.Customer{ID: c.ID, Deleted: c.Deleted}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, in paymentdomain.CustomerParams) (*paymentdomain.Customer, error) {
	if !a.hasKey {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	c, err := a.customers.New(params)
	if err != nil {
		return nil, mapError("create_customer", err)
	}
	return &paymentdomain.Customer{ID: c.ID}, nil
}

func (a *Adapter) CreateEphemeralKey(ctx context.Context, customerID string) (*paymentdomain.EphemeralKey, error) {
	if !a.hasKey {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	params := &stripelib.EphemeralKeyParams{
		Customer:      stripelib.String(customerID),
		StripeVersion: stripelib.String(a.apiVersion),
	}
	params.Context = ctx

	k, err := a.keys.New(params)
	if err != nil {
		return nil, mapError("create_ephemeral_key", err)
	}
	out := &paymentdomain.EphemeralKey{ID: k.ID, Secret: k.Secret}
	if k.Expires > 0 {
		out.ExpiresAt = time.Unix(k.Expires, 0).UTC()
	}
	return out, nil
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, in paymentdomain.IntentParams) (*paymentdomain.PaymentIntent, error) {
	if !a.hasKey {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	params := &stripelib.PaymentIntentParams{
		Amount:   stripelib.Int64(in.Amount),
		Currency: stripelib.String(strings.ToLower(in.Currency)),
		Customer: stripelib.String(in.CustomerID),
		AutomaticPaymentMethods: &stripelib.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripelib.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, mapError("create_payment_intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, id string) (*paymentdomain.PaymentIntent, error) {
	if !a.hasKey {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	params := &stripelib.PaymentIntentParams{}
	params.Context = ctx

	pi, err := a.intents.Get(strings.TrimSpace(id), params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", paymentdomain.ErrPaymentIntentNotFound, id)
		}
		return nil, mapError("get_payment_intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (a *Adapter) ConstructEvent(payload []byte, signature string) (*paymentdomain.Event, error) {
	if a.webhookSecret == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, paymentdomain.ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}

	out := &paymentdomain.Event{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Type != stripelib.EventTypePaymentIntentSucceeded {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var pi stripelib.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: decode payment_intent: %v", paymentdomain.ErrInvalidPayload, err)
	}
	out.PaymentIntent = toPaymentIntent(&pi)
	return out, nil
}

func toPaymentIntent(pi *stripelib.PaymentIntent) *paymentdomain.PaymentIntent {
	out := &paymentdomain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}

func isResourceMissing(err error) bool {
	var se *stripelib.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == stripelib.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound
}

func mapError(op string, err error) error {
	var se *stripelib.Error
	if !errors.As(err, &se) {
		return &paymentdomain.ProviderError{Kind: paymentdomain.ProviderErrorAPI, Op: op, Err: err}
	}

	kind := paymentdomain.ProviderErrorAPI
	switch {
	case se.Type == stripelib.ErrorTypeCard:
		kind = paymentdomain.ProviderErrorCard
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.Code == stripelib.ErrorCodeRateLimit:
		kind = paymentdomain.ProviderErrorRateLimited
	case se.Type == stripelib.ErrorTypeInvalidRequest:
		kind = paymentdomain.ProviderErrorInvalid
	}
	return &paymentdomain.ProviderError{Kind: kind, Op: op, Message: se.Msg, Err: err}
}
