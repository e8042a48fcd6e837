package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/railzwaylabs/insightpass/internal/entitlement/entitlementtest"
	"github.com/railzwaylabs/insightpass/internal/entitlement/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     domain.Repository
	access   *AccessResolver
	assigner *Assigner
}

func newFixture(t *testing.T) *fixture {
	db := entitlementtest.OpenDB(t)
	node := entitlementtest.Node(t)
	clk := clock.Fixed(now)
	repo := repository.New(repository.Params{DB: db, Node: node, Clock: clk})
	p := Params{Repo: repo, Log: zap.NewNop(), Clock: clk}
	return &fixture{
		db:       db,
		node:     node,
		repo:     repo,
		access:   NewAccessResolver(p),
		assigner: NewAssigner(p),
	}
}

func (f *fixture) seed(t *testing.T, e domain.Entitlement) domain.Entitlement {
	return entitlementtest.Seed(t, f.db, f.node, e)
}

func (f *fixture) status(t *testing.T, id snowflake.ID) domain.Status {
	var row domain.Entitlement
	require.NoError(t, f.db.First(&row, id).Error)
	return row.Status
}

func TestHasAccessOneTimeScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.DeviceOwner("dev-1")
	f.seed(t, domain.Entitlement{DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_1"})

	ok, err := f.access.HasAccess(ctx, owner, "chatA")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.access.HasAccess(ctx, owner, "")
	require.NoError(t, err)
	require.False(t, ok, "one-time purchases need chat context")

	res, err := f.assigner.AssignToChat(ctx, owner, "chatA")
	require.NoError(t, err)
	require.True(t, res.Assigned)

	ok, err = f.access.HasAccess(ctx, owner, "chatB")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.access.HasAccess(ctx, owner, "chatA")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasAccessRequiresPaymentReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.DeviceOwner("dev-1")

	empty := f.seed(t, domain.Entitlement{DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanOneTime, StripePaymentIntentID: ""})
	sub := f.seed(t, domain.Entitlement{
		DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanMonthly, StripePaymentIntentID: "pi_tmp",
		ExpiresAt: entitlementtest.Ptr(now.Add(24 * time.Hour)),
	})
	require.NoError(t, f.db.Exec("UPDATE entitlements SET stripe_payment_intent_id = NULL WHERE id = ?", sub.ID).Error)

	for _, chat := range []string{"", "chatA", "chatB"} {
		ok, err := f.access.HasAccess(ctx, owner, chat)
		require.NoError(t, err)
		require.False(t, ok, "chat %q", chat)
	}
	require.Equal(t, domain.StatusActive, f.status(t, empty.ID))
}

func TestHasAccessSubscriptionGrantsAnyChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Entitlement{
		UserID: entitlementtest.Ptr("user-1"), PlanID: domain.PlanWeekly, StripePaymentIntentID: "pi_1",
		ExpiresAt: entitlementtest.Ptr(now.Add(time.Minute)),
	})

	for _, chat := range []string{"", "chat-1", "chat-2"} {
		ok, err := f.access.HasAccess(ctx, domain.UserOwner("user-1"), chat)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := f.access.HasAccess(ctx, domain.DeviceOwner("user-1"), "chat-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasAccessLazilyExpiresStaleSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := domain.DeviceOwner("dev-1")
	stale := f.seed(t, domain.Entitlement{
		DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanMonthly, StripePaymentIntentID: "pi_1",
		ExpiresAt: entitlementtest.Ptr(now.Add(-time.Second)),
	})

	ok, err := f.access.HasAccess(ctx, owner, "chat-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.StatusExpired, f.status(t, stale.ID))

	ok, err = f.access.HasAccess(ctx, owner, "chat-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasAccessExpiryBoundaryDenies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Entitlement{
		DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanWeekly, StripePaymentIntentID: "pi_1",
		ExpiresAt: entitlementtest.Ptr(now),
	})

	ok, err := f.access.HasAccess(ctx, domain.DeviceOwner("dev-1"), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasAccessContinuesPastExpiredToValidRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := entitlementtest.Ptr("dev-1")
	stale := f.seed(t, domain.Entitlement{
		DeviceID: dev, PlanID: domain.PlanWeekly, StripePaymentIntentID: "pi_new",
		PurchasedAt: now.Add(-time.Hour), ExpiresAt: entitlementtest.Ptr(now.Add(-time.Minute)),
	})
	f.seed(t, domain.Entitlement{
		DeviceID: dev, PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_old",
		PurchasedAt: now.Add(-48 * time.Hour), ChatID: entitlementtest.Ptr("chat-1"),
	})

	ok, err := f.access.HasAccess(ctx, domain.DeviceOwner("dev-1"), "chat-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StatusExpired, f.status(t, stale.ID))
}

func TestHasAccessSkipsSubscriptionWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.seed(t, domain.Entitlement{DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanMonthly, StripePaymentIntentID: "pi_1"})

	ok, err := f.access.HasAccess(ctx, domain.DeviceOwner("dev-1"), "chat-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, domain.StatusActive, f.status(t, row.ID))
}

func TestHasAccessRejectsInvalidOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.access.HasAccess(context.Background(), domain.DeviceOwner(""), "chat-1")
	require.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestAssignToChatNoopWithoutUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Entitlement{
		DeviceID: entitlementtest.Ptr("dev-1"), PlanID: domain.PlanWeekly, StripePaymentIntentID: "pi_1",
		ExpiresAt: entitlementtest.Ptr(now.Add(time.Hour)),
	})

	res, err := f.assigner.AssignToChat(ctx, domain.DeviceOwner("dev-1"), "chat-1")
	require.NoError(t, err)
	require.False(t, res.Assigned)
	require.False(t, res.AlreadyBound)
}

func TestAssignToChatDoesNotSpendSecondPurchaseOnBoundChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := entitlementtest.Ptr("dev-1")
	bound := f.seed(t, domain.Entitlement{
		DeviceID: dev, PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_1",
		PurchasedAt: now.Add(-time.Hour), ChatID: entitlementtest.Ptr("chat-1"),
	})
	spare := f.seed(t, domain.Entitlement{DeviceID: dev, PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_2"})

	res, err := f.assigner.AssignToChat(ctx, domain.DeviceOwner("dev-1"), "chat-1")
	require.NoError(t, err)
	require.True(t, res.AlreadyBound)
	require.Equal(t, bound.ID, res.EntitlementID)

	res, err = f.assigner.AssignToChat(ctx, domain.DeviceOwner("dev-1"), "chat-2")
	require.NoError(t, err)
	require.True(t, res.Assigned)
	require.Equal(t, spare.ID, res.EntitlementID)
}

func TestConcurrentAssignToSameChatBindsOnePurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := entitlementtest.Ptr("dev-1")
	f.seed(t, domain.Entitlement{DeviceID: dev, PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_1", PurchasedAt: now.Add(-time.Hour)})
	f.seed(t, domain.Entitlement{DeviceID: dev, PlanID: domain.PlanOneTime, StripePaymentIntentID: "pi_2", PurchasedAt: now})

	const callers = 6
	var (
		wg      sync.WaitGroup
		results = make([]AssignResult, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.assigner.AssignToChat(ctx, domain.DeviceOwner("dev-1"), "chat-1")
		}(i)
	}
	wg.Wait()

	assigned := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Assigned {
			assigned++
		} else {
			require.True(t, results[i].AlreadyBound)
		}
	}
	require.Equal(t, 1, assigned)

	var bound int64
	require.NoError(t, f.db.Model(&domain.Entitlement{}).Where("chat_id = ?", "chat-1").Count(&bound).Error)
	require.Equal(t, int64(1), bound)
}

func TestAssignToChatValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.assigner.AssignToChat(context.Background(), domain.DeviceOwner("dev-1"), " ")
	require.ErrorIs(t, err, domain.ErrInvalidChat)

	_, err = f.assigner.AssignToChat(context.Background(), domain.Owner{}, "chat-1")
	require.ErrorIs(t, err, domain.ErrInvalidOwner)
}
