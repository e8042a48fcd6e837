// Package checkout drives a purchase from the client side: issue an intent,
// present the provider sheet, then wait for the entitlement to appear.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"go.uber.org/zap"
)

// ErrVerificationTimeout means the payment may well have gone through but no
// entitlement could be confirmed yet. Callers should suggest retrying shortly.
var ErrVerificationTimeout = errors.New("verification_timeout")

type Outcome string

const (
	// OutcomeGranted: access showed up while polling.
	OutcomeGranted Outcome = "granted"
	// OutcomeVerified: polling ran out and the manual verifier confirmed the payment.
	OutcomeVerified  Outcome = "verified"
	OutcomeCancelled Outcome = "cancelled"
)

type SheetResult int

const (
	SheetCompleted SheetResult = iota
	SheetCancelled
)

// PaymentSheet presents the provider checkout UI for an issued intent.
type PaymentSheet interface {
	Present(ctx context.Context, intent *paymentdomain.IntentResponse) (SheetResult, error)
}

type AccessChecker interface {
	HasAccess(ctx context.Context, owner entdomain.Owner, chatID string) (bool, error)
}

type PollPolicy struct {
	Attempts  int
	FirstWait time.Duration
	Wait      time.Duration
}

var DefaultPollPolicy = PollPolicy{Attempts: 10, FirstWait: 500 * time.Millisecond, Wait: time.Second}

type PurchaseRequest struct {
	Amount   int64
	Currency string
	PlanID   string
	DeviceID string
	UserID   string
	ChatID   string
}

func (r PurchaseRequest) owner() entdomain.Owner {
	return entdomain.OwnerFor(r.DeviceID, r.UserID)
}

type Options struct {
	Intents  paymentdomain.IntentIssuer
	Sheet    PaymentSheet
	Access   AccessChecker
	Verifier paymentdomain.Verifier
	Policy   PollPolicy
	Log      *zap.Logger
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Orchestrator struct {
	intents  paymentdomain.IntentIssuer
	sheet    PaymentSheet
	access   AccessChecker
	verifier paymentdomain.Verifier
	policy   PollPolicy
	log      *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		intents:  opts.Intents,
		sheet:    opts.Sheet,
		access:   opts.Access,
		verifier: opts.Verifier,
		policy:   opts.Policy,
		log:      opts.Log,
		sleep:    opts.Sleep,
	}
	if o.policy.Attempts <= 0 {
		o.policy = DefaultPollPolicy
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	o.log = o.log.Named("checkout.orchestrator")
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o
}

// Purchase runs one purchase attempt end to end. A cancelled sheet is an
// outcome, not an error.
func (o *Orchestrator) Purchase(ctx context.Context, req PurchaseRequest) (Outcome, error) {
	intentReq := paymentdomain.IntentRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PlanID:         req.PlanID,
		DeviceID:       req.DeviceID,
		UserID:         req.UserID,
		IdempotencyKey: uuid.NewString(),
	}
	if chatID := strings.TrimSpace(req.ChatID); chatID != "" {
		intentReq.ChatID = &chatID
	}

	intent, err := o.intents.CreateIntent(ctx, intentReq)
	if err != nil {
		return "", fmt.Errorf("create payment intent: %w", err)
	}

	result, err := o.sheet.Present(ctx, intent)
	if err != nil {
		return "", fmt.Errorf("present payment sheet: %w", err)
	}
	if result == SheetCancelled {
		o.log.Info("purchase cancelled by user", zap.String("payment_intent_id", intent.PaymentIntentID))
		return OutcomeCancelled, nil
	}

	granted, err := o.poll(ctx, req.owner(), req.ChatID)
	if err != nil {
		return "", err
	}
	if granted {
		return OutcomeGranted, nil
	}

	return o.fallback(ctx, req, intent.PaymentIntentID)
}

func (o *Orchestrator) poll(ctx context.Context, owner entdomain.Owner, chatID string) (bool, error) {
	for attempt := 0; attempt < o.policy.Attempts; attempt++ {
		wait := o.policy.Wait
		if attempt == 0 {
			wait = o.policy.FirstWait
		}
		if err := o.sleep(ctx, wait); err != nil {
			return false, err
		}

		ok, err := o.access.HasAccess(ctx, owner, chatID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			o.log.Warn("access check failed; still polling", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if ok {
			o.log.Debug("access granted", zap.Int("attempt", attempt+1))
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) fallback(ctx context.Context, req PurchaseRequest, paymentIntentID string) (Outcome, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return "", fmt.Errorf("%w: no payment intent to verify", ErrVerificationTimeout)
	}

	verifyReq := paymentdomain.VerifyRequest{
		PaymentIntentID: paymentIntentID,
		DeviceID:        req.DeviceID,
		PlanID:          req.PlanID,
	}
	if chatID := strings.TrimSpace(req.ChatID); chatID != "" {
		verifyReq.ChatID = &chatID
	}

	res, err := o.verifier.Verify(ctx, verifyReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		o.log.Warn("manual verification failed", zap.String("payment_intent_id", paymentIntentID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrVerificationTimeout, err)
	}
	if !res.Success {
		return "", fmt.Errorf("%w: payment status %s", ErrVerificationTimeout, res.Status)
	}
	return OutcomeVerified, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
