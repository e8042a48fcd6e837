package integration

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/railzwaylabs/insightpass/internal/checkout"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func TestOneTimePurchaseThroughWebhook(t *testing.T) {
	s := newStack(t)
	sheet := &paySheet{stack: s, deliver: true}
	o := s.orchestrator(sheet)

	// No chat at purchase time: polling without chat context cannot be
	// satisfied by a one-time grant, so the verifier confirms the existing row.
	outcome, err := o.Purchase(context.Background(), checkout.PurchaseRequest{
		Amount: 299, Currency: "usd", PlanID: "one-time", DeviceID: deviceD1,
	})
	require.NoError(t, err)
	require.Equal(t, checkout.OutcomeVerified, outcome)
	require.Equal(t, int64(1), s.count())

	row, err := s.repo.FindByPaymentIntentID(context.Background(), sheet.last)
	require.NoError(t, err)
	require.Nil(t, row.ChatID)

	d1 := entdomain.DeviceOwner(deviceD1)
	require.True(t, s.hasAccess(d1, "chat-42"))

	res, err := s.assigner.AssignToChat(context.Background(), d1, "chat-42")
	require.NoError(t, err)
	require.True(t, res.Assigned)

	require.False(t, s.hasAccess(d1, "chat-77"))
	require.True(t, s.hasAccess(d1, "chat-42"))
}

func TestOneTimePurchaseInChatGrantedWhilePolling(t *testing.T) {
	s := newStack(t)
	access := &countingAccess{inner: s.client}
	o := checkout.NewOrchestrator(checkout.Options{
		Intents:  s.client,
		Sheet:    &paySheet{stack: s, deliver: true},
		Access:   access,
		Verifier: s.client,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})

	outcome, err := o.Purchase(context.Background(), checkout.PurchaseRequest{
		Amount: 299, Currency: "usd", PlanID: "one-time", DeviceID: deviceD1, ChatID: "chat-42",
	})
	require.NoError(t, err)
	require.Equal(t, checkout.OutcomeGranted, outcome)
	require.Equal(t, 1, access.calls)
}

func TestMonthlyPurchaseWithDelayedWebhook(t *testing.T) {
	s := newStack(t)
	sheet := &paySheet{stack: s}
	access := &countingAccess{inner: s.client}
	o := checkout.NewOrchestrator(checkout.Options{
		Intents:  s.client,
		Sheet:    sheet,
		Access:   access,
		Verifier: s.client,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})

	outcome, err := o.Purchase(context.Background(), checkout.PurchaseRequest{
		Amount: 999, Currency: "usd", PlanID: "monthly", DeviceID: deviceD2,
	})
	require.NoError(t, err)
	require.Equal(t, checkout.OutcomeVerified, outcome)
	require.Equal(t, 10, access.calls)

	d2 := entdomain.DeviceOwner(deviceD2)
	require.True(t, s.hasAccess(d2, ""))
	require.True(t, s.hasAccess(d2, "any-chat"))

	row, err := s.repo.FindByPaymentIntentID(context.Background(), sheet.last)
	require.NoError(t, err)
	require.True(t, row.ExpiresAt.Equal(time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)))

	// The late webhook is a duplicate, still answered with 200.
	require.Equal(t, http.StatusOK, s.deliverWebhook(sheet.last))
	require.Equal(t, int64(1), s.count())
}

func TestCancelledPurchaseCreatesNothing(t *testing.T) {
	s := newStack(t)

	outcome, err := s.orchestrator(cancelSheet{}).Purchase(context.Background(), checkout.PurchaseRequest{
		Amount: 999, Currency: "usd", PlanID: "weekly", DeviceID: deviceD2,
	})
	require.NoError(t, err)
	require.Equal(t, checkout.OutcomeCancelled, outcome)
	require.Zero(t, s.count())
}

func TestPendingPaymentSurfacesVerificationTimeout(t *testing.T) {
	s := newStack(t)
	// The sheet reports completion but the provider never settles.
	sheet := sheetFunc(func(ctx context.Context, intent *paymentdomain.IntentResponse) (checkout.SheetResult, error) {
		s.provider.SetStatus(intent.PaymentIntentID, "processing")
		return checkout.SheetCompleted, nil
	})

	_, err := s.orchestrator(sheet).Purchase(context.Background(), checkout.PurchaseRequest{
		Amount: 999, Currency: "usd", PlanID: "weekly", DeviceID: deviceD2,
	})
	require.ErrorIs(t, err, checkout.ErrVerificationTimeout)
	require.Zero(t, s.count())
}

func TestIdentityMigrationMovesAccess(t *testing.T) {
	s := newStack(t)
	o := s.orchestrator(&paySheet{stack: s, deliver: true})
	for _, plan := range []string{"weekly", "one-time"} {
		_, err := o.Purchase(context.Background(), checkout.PurchaseRequest{
			Amount: 499, Currency: "usd", PlanID: plan, DeviceID: deviceD3, ChatID: "chat-1",
		})
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), s.count())

	moved, err := s.migrator.Migrate(context.Background(), deviceD3, userU1)
	require.NoError(t, err)
	require.Equal(t, int64(2), moved)

	d3 := entdomain.DeviceOwner(deviceD3)
	u1 := entdomain.UserOwner(userU1)
	require.False(t, s.hasAccess(d3, ""))
	require.False(t, s.hasAccess(d3, "chat-1"))
	require.True(t, s.hasAccess(u1, ""))
	require.True(t, s.hasAccess(u1, "chat-1"))

	rows, err := s.repo.ListByOwner(context.Background(), u1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestWebhookAndVerifierConverge(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	resp, err := s.client.CreateIntent(ctx, paymentdomain.IntentRequest{
		Amount: 999, Currency: "usd", PlanID: "monthly", DeviceID: deviceD2,
	})
	require.NoError(t, err)
	s.provider.Succeed(resp.PaymentIntentID)

	payload, sig := s.signedSucceeded(resp.PaymentIntentID)

	var (
		wg         sync.WaitGroup
		status     int
		webhookErr error
		verified   *paymentdomain.VerifyResult
		verifyErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		status, webhookErr = s.postWebhook(payload, sig)
	}()
	go func() {
		defer wg.Done()
		verified, verifyErr = s.client.Verify(ctx, paymentdomain.VerifyRequest{
			PaymentIntentID: resp.PaymentIntentID, DeviceID: deviceD2, PlanID: "monthly",
		})
	}()
	wg.Wait()

	require.NoError(t, webhookErr)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, verifyErr)
	require.True(t, verified.Success)
	require.True(t, verified.EntitlementCreated || verified.EntitlementExists)
	require.Equal(t, int64(1), s.count())
}

func TestIssuerRejectsAmountOverHTTP(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.CreateIntent(ctx, paymentdomain.IntentRequest{
		Amount: 10, Currency: "usd", PlanID: "monthly", DeviceID: deviceD1,
	})
	var apiErr *checkout.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "amount", apiErr.Field)
}

type sheetFunc func(ctx context.Context, intent *paymentdomain.IntentResponse) (checkout.SheetResult, error)

func (f sheetFunc) Present(ctx context.Context, intent *paymentdomain.IntentResponse) (checkout.SheetResult, error) {
	return f(ctx, intent)
}
