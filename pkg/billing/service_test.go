package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creatorshop/billing/pkg/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if session := args.Get(0); session != nil {
		return session.(*billing.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, providerSubID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerSubID)
	if sub := args.Get(0); sub != nil {
		return sub.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	args := m.Called(payload, signature)
	if event := args.Get(0); event != nil {
		return event.(billing.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

var testPrices = billing.PriceTable{
	Monthly: "price_monthly",
	Annual:  "price_annual",
}

type serviceFixture struct {
	provider *mockProvider
	subs     *billing.MemorySubscriptionStore
	ents     *billing.MemoryEntitlementStore
	profiles *billing.MemoryProfileStore
	svc      *billing.Service
	now      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		provider: new(mockProvider),
		subs:     billing.NewMemorySubscriptionStore(),
		ents:     billing.NewMemoryEntitlementStore(),
		profiles: billing.NewMemoryProfileStore(),
		now:      time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = billing.NewService(f.provider, f.subs, f.ents, f.profiles, testPrices,
		billing.WithClock(func() time.Time { return f.now }))
	return f
}

func trialingProviderSub(subID string) *billing.ProviderSubscription {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	trialEnd := start.AddDate(0, 0, 14)
	return &billing.ProviderSubscription{
		ID:                 subID,
		CustomerID:         "cus_123",
		PriceID:            testPrices.Monthly,
		Status:             billing.StatusTrialing,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		TrialEnd:           &trialEnd,
	}
}

func TestServiceCreateCheckout(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("missing price ID", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.CreateCheckout(context.Background(), userID, "", "", "")
		require.ErrorIs(t, err, billing.ErrMissingPriceID)
		f.provider.AssertNotCalled(t, "CreateCheckout")
	})

	t.Run("unknown price ID", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.CreateCheckout(context.Background(), userID, "price_bogus", "", "")
		require.ErrorIs(t, err, billing.ErrUnknownPriceID)
		f.provider.AssertNotCalled(t, "CreateCheckout")
	})

	t.Run("session created with trial and user metadata", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("CreateCheckout", mock.Anything, billing.CheckoutRequest{
			PriceID:    testPrices.Monthly,
			UserID:     userID.String(),
			TrialDays:  billing.TrialPeriodDays,
			SuccessURL: "https://example.com/done",
			CancelURL:  "https://example.com/cancel",
		}).Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil)

		session, err := f.svc.CreateCheckout(context.Background(), userID, testPrices.Monthly,
			"https://example.com/done", "https://example.com/cancel")
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.example/cs_1", session.URL)
		f.provider.AssertExpectations(t)
	})
}

func TestServiceCheckoutCompleted(t *testing.T) {
	t.Parallel()

	t.Run("provisions subscriber", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		event := billing.CheckoutCompleted{
			UserID:         userID.String(),
			CustomerID:     "cus_123",
			SubscriptionID: "sub_1",
		}
		f.provider.On("ParseWebhook", mock.Anything, "sig").Return(event, nil)
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(trialingProviderSub("sub_1"), nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		sub, err := f.subs.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, sub.Status)
		assert.Equal(t, billing.PlanMonthly, sub.Plan)
		assert.Equal(t, "sub_1", sub.ProviderSubID)
		require.NotNil(t, sub.TrialEnd)

		ents, err := f.ents.ListByUser(context.Background(), userID)
		require.NoError(t, err)
		require.Len(t, ents, len(billing.AllFeatures))
		for _, ent := range ents {
			assert.True(t, ent.Active)
			require.NotNil(t, ent.ExpiresAt)
			assert.Equal(t, sub.CurrentPeriodEnd, *ent.ExpiresAt)
		}

		role, err := f.profiles.Role(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.RoleCreator, role)
	})

	t.Run("redelivery converges to the same state", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		event := billing.CheckoutCompleted{
			UserID:         userID.String(),
			CustomerID:     "cus_123",
			SubscriptionID: "sub_1",
		}
		f.provider.On("ParseWebhook", mock.Anything, "sig").Return(event, nil)
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(trialingProviderSub("sub_1"), nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		assert.Equal(t, 1, f.subs.Count())
		ents, err := f.ents.ListByUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Len(t, ents, len(billing.AllFeatures))

		role, err := f.profiles.Role(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.RoleCreator, role)
	})

	t.Run("malformed user metadata fails the event", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		event := billing.CheckoutCompleted{UserID: "not-a-uuid", SubscriptionID: "sub_1"}
		f.provider.On("ParseWebhook", mock.Anything, "sig").Return(event, nil)

		require.Error(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		assert.Equal(t, 0, f.subs.Count())
	})
}

func TestServiceSubscriptionChanged(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, f *serviceFixture, userID uuid.UUID) {
		t.Helper()
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:          userID,
			Status:          billing.StatusTrialing,
			Plan:            billing.PlanMonthly,
			ProviderSubID:   "sub_1",
			ProviderPriceID: testPrices.Monthly,
		}))
		for _, feature := range billing.AllFeatures {
			require.NoError(t, f.ents.Upsert(context.Background(), &billing.Entitlement{
				UserID:  userID,
				Feature: feature,
				Active:  true,
			}))
		}
	}

	t.Run("plan change updates fields but not entitlements", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		seed(t, f, userID)

		changed := billing.SubscriptionChanged{Subscription: billing.ProviderSubscription{
			ID:                "sub_1",
			PriceID:           testPrices.Annual,
			Status:            billing.StatusActive,
			CancelAtPeriodEnd: true,
		}}
		f.provider.On("ParseWebhook", mock.Anything, "sig").Return(changed, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		sub, err := f.subs.GetByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, billing.PlanAnnual, sub.Plan)
		assert.True(t, sub.CancelAtPeriodEnd)

		// Entitlement refresh is deferred; the update leaves grants alone.
		ents, err := f.ents.ListByUser(context.Background(), userID)
		require.NoError(t, err)
		for _, ent := range ents {
			assert.True(t, ent.Active)
		}
	})

	t.Run("update for unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		changed := billing.SubscriptionChanged{Subscription: billing.ProviderSubscription{
			ID:     "sub_ghost",
			Status: billing.StatusActive,
		}}
		f.provider.On("ParseWebhook", mock.Anything, "sig").Return(changed, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		assert.Equal(t, 0, f.subs.Count())
	})
}

func TestServiceStatusTransitions(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, f *serviceFixture, userID uuid.UUID, status billing.Status) {
		t.Helper()
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:        userID,
			Status:        status,
			Plan:          billing.PlanMonthly,
			ProviderSubID: "sub_1",
		}))
	}

	t.Run("payment failure suspends", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		seed(t, f, userID, billing.StatusActive)
		f.provider.On("ParseWebhook", mock.Anything, "sig").
			Return(billing.PaymentFailed{SubscriptionID: "sub_1"}, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		sub, err := f.subs.GetByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, sub.Status)

		summary, err := f.svc.Summary(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, summary.Active)
		assert.True(t, summary.Suspended)
	})

	t.Run("renewal recovers a past due subscription", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		seed(t, f, userID, billing.StatusPastDue)

		fresh := trialingProviderSub("sub_1")
		fresh.Status = billing.StatusActive
		fresh.TrialEnd = nil
		f.provider.On("ParseWebhook", mock.Anything, "sig").
			Return(billing.RenewalPaid{SubscriptionID: "sub_1"}, nil)
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(fresh, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		sub, err := f.subs.GetByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, fresh.CurrentPeriodEnd, sub.CurrentPeriodEnd)
	})

	t.Run("termination marks canceled", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		seed(t, f, userID, billing.StatusActive)
		f.provider.On("ParseWebhook", mock.Anything, "sig").
			Return(billing.SubscriptionEnded{SubscriptionID: "sub_1"}, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))

		sub, err := f.subs.GetByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, sub.Status)
	})
}

func TestServiceHandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("unrecognized event is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, "sig").
			Return(billing.Unrecognized{Type: "customer.created"}, nil)

		require.NoError(t, f.svc.HandleWebhook(context.Background(), []byte("{}"), "sig"))
		assert.Equal(t, 0, f.subs.Count())
	})

	t.Run("signature failure writes nothing", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, "bad").
			Return(nil, billing.ErrInvalidSignature)

		err := f.svc.HandleWebhook(context.Background(), []byte("{}"), "bad")
		require.ErrorIs(t, err, billing.ErrInvalidSignature)
		assert.Equal(t, 0, f.subs.Count())
		f.provider.AssertNotCalled(t, "GetSubscription")
	})
}

func TestServiceSummary(t *testing.T) {
	t.Parallel()

	t.Run("never subscribed", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		summary, err := f.svc.Summary(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, summary.Status)
		assert.False(t, summary.Active)
		assert.False(t, summary.Suspended)
	})
}

func TestServiceReconcile(t *testing.T) {
	t.Parallel()

	t.Run("provider says canceled deactivates entitlements", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:        userID,
			Status:        billing.StatusActive,
			Plan:          billing.PlanMonthly,
			ProviderSubID: "sub_1",
		}))
		for _, feature := range billing.AllFeatures {
			require.NoError(t, f.ents.Upsert(context.Background(), &billing.Entitlement{
				UserID:  userID,
				Feature: feature,
				Active:  true,
			}))
		}

		drifted := trialingProviderSub("sub_1")
		drifted.Status = billing.StatusCanceled
		f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(drifted, nil)

		summary, err := f.svc.Reconcile(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, summary.Active)
		assert.True(t, summary.Suspended)

		ents, err := f.ents.ListByUser(context.Background(), userID)
		require.NoError(t, err)
		for _, ent := range ents {
			assert.False(t, ent.Active)
		}
	})

	t.Run("no row reconciles to never subscribed", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		summary, err := f.svc.Reconcile(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, summary.Status)
		f.provider.AssertNotCalled(t, "GetSubscription")
	})
}
