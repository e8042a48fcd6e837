// Package paymenttest provides an in-memory payment provider whose webhook
// events are signed and parsed by the real Stripe adapter.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	stripeadapter "github.com/railzwaylabs/insightpass/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const WebhookSecret = "whsec_paymenttest"

type Provider struct {
	mu     sync.Mutex
	events *stripeadapter.Adapter
	seq    int

	customers map[string]*domain.Customer
	intents   map[string]*domain.PaymentIntent
	byIdemKey map[string]string
	failures  map[string]error

	CustomerCalls []domain.CustomerParams
	IntentCalls   []domain.IntentParams
	GetCalls      int
}

var _ domain.Provider = (*Provider)(nil)

func NewProvider() *Provider {
	return &Provider{
		events:    stripeadapter.New(stripeadapter.Options{WebhookSecret: WebhookSecret}),
		customers: map[string]*domain.Customer{},
		intents:   map[string]*domain.PaymentIntent{},
		byIdemKey: map[string]string{},
		failures:  map[string]error{},
	}
}

// FailWith makes op return err until cleared with a nil err. Ops are the
// Provider method names.
func (p *Provider) FailWith(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

func (p *Provider) AddCustomer(id string, deleted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers[id] = &domain.Customer{ID: id, Deleted: deleted}
}

// AddIntent stores pi as if it had been created upstream.
func (p *Provider) AddIntent(pi domain.PaymentIntent) *domain.PaymentIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored := pi
	p.intents[pi.ID] = &stored
	return clone(&stored)
}

func (p *Provider) SetStatus(id, status string) *domain.PaymentIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.intents[id]
	if !ok {
		return nil
	}
	pi.Status = status
	return clone(pi)
}

func (p *Provider) Succeed(id string) *domain.PaymentIntent {
	return p.SetStatus(id, domain.PaymentIntentStatusSucceeded)
}

func (p *Provider) Intent(id string) *domain.PaymentIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clone(p.intents[id])
}

func (p *Provider) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["GetCustomer"]; err != nil {
		return nil, err
	}
	c, ok := p.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	out := *c
	return &out, nil
}

func (p *Provider) CreateCustomer(_ context.Context, params domain.CustomerParams) (*domain.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["CreateCustomer"]; err != nil {
		return nil, err
	}
	p.CustomerCalls = append(p.CustomerCalls, params)
	c := &domain.Customer{ID: p.nextID("cus")}
	p.customers[c.ID] = c
	out := *c
	return &out, nil
}

func (p *Provider) CreateEphemeralKey(_ context.Context, customerID string) (*domain.EphemeralKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["CreateEphemeralKey"]; err != nil {
		return nil, err
	}
	id := p.nextID("ephkey")
	return &domain.EphemeralKey{ID: id, Secret: id + "_secret_" + customerID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *Provider) CreatePaymentIntent(_ context.Context, params domain.IntentParams) (*domain.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["CreatePaymentIntent"]; err != nil {
		return nil, err
	}
	p.IntentCalls = append(p.IntentCalls, params)
	if params.IdempotencyKey != "" {
		if id, ok := p.byIdemKey[params.IdempotencyKey]; ok {
			return clone(p.intents[id]), nil
		}
	}

	id := p.nextID("pi")
	md := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		md[k] = v
	}
	pi := &domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		CustomerID:   params.CustomerID,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Metadata:     md,
	}
	p.intents[id] = pi
	if params.IdempotencyKey != "" {
		p.byIdemKey[params.IdempotencyKey] = id
	}
	return clone(pi), nil
}

func (p *Provider) GetPaymentIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GetCalls++
	if err := p.failures["GetPaymentIntent"]; err != nil {
		return nil, err
	}
	pi, ok := p.intents[id]
	if !ok {
		return nil, domain.ErrPaymentIntentNotFound
	}
	return clone(pi), nil
}

func (p *Provider) ConstructEvent(payload []byte, signature string) (*domain.Event, error) {
	return p.events.ConstructEvent(payload, signature)
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_test_%d", prefix, p.seq)
}

func clone(pi *domain.PaymentIntent) *domain.PaymentIntent {
	if pi == nil {
		return nil
	}
	out := *pi
	out.Metadata = make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// SignedEvent renders pi as a provider event of eventType and signs it with
// WebhookSecret. It returns the body and the signature header.
func SignedEvent(t testing.TB, eventType string, pi *domain.PaymentIntent) ([]byte, string) {
	t.Helper()
	return SignedEventWithSecret(t, eventType, pi, WebhookSecret)
}

func SignedEventWithSecret(t testing.TB, eventType string, pi *domain.PaymentIntent, secret string) ([]byte, string) {
	t.Helper()

	eventID := "evt_empty"
	object := map[string]any{"object": "payment_intent"}
	if pi != nil {
		eventID = "evt_" + pi.ID
		object["id"] = pi.ID
		object["status"] = pi.Status
		object["amount"] = pi.Amount
		object["currency"] = pi.Currency
		object["metadata"] = pi.Metadata
		if pi.CustomerID != "" {
			object["customer"] = pi.CustomerID
		}
	}
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripelib.APIVersion,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}
