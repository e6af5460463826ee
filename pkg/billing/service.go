package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creatorshop/billing/pkg/changefeed"
)

// TrialPeriodDays is the trial attached to every new checkout session.
const TrialPeriodDays = 14

// Service coordinates checkout initiation, webhook ingestion, and
// reconciliation. Instances hold no mutable state of their own; correctness
// under concurrent webhook deliveries relies on the stores' per-row upsert
// atomicity, not on application-level locking. The service is the single
// writer for subscription and entitlement rows.
type Service struct {
	provider      PaymentProvider
	subscriptions SubscriptionStore
	entitlements  EntitlementStore
	profiles      ProfileStore
	prices        PriceTable
	feed          *changefeed.Feed[uuid.UUID]
	log           *slog.Logger
	now           func() time.Time
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithFeed attaches a change feed the service publishes to after every
// subscription mutation. Watchers re-read the row on each notification.
func WithFeed(feed *changefeed.Feed[uuid.UUID]) ServiceOption {
	return func(s *Service) { s.feed = feed }
}

// WithClock overrides the service clock. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a billing service. Panics on nil required dependencies
// to fail fast during initialization.
func NewService(provider PaymentProvider, subs SubscriptionStore, ents EntitlementStore, profiles ProfileStore, prices PriceTable, opts ...ServiceOption) *Service {
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if ents == nil {
		panic("billing: EntitlementStore is required")
	}
	if profiles == nil {
		panic("billing: ProfileStore is required")
	}

	s := &Service{
		provider:      provider,
		subscriptions: subs,
		entitlements:  ents,
		profiles:      profiles,
		prices:        prices,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateCheckout requests a hosted checkout session for the user. The price
// ID must map to a known plan; the user ID is embedded in session metadata
// so the completion webhook can attribute the subscription. No retries:
// checkout is a single user-driven action.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	if priceID == "" {
		return nil, ErrMissingPriceID
	}
	if !s.prices.Known(priceID) {
		return nil, ErrUnknownPriceID
	}

	session, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		PriceID:    priceID,
		UserID:     userID.String(),
		TrialDays:  TrialPeriodDays,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "checkout session created",
		"user_id", userID,
		"session_id", session.ID,
		"price_id", priceID)

	return session, nil
}

// HandleWebhook verifies and applies a single provider event. Every
// transition is a keyed upsert or update, so at-least-once redelivery of
// the same event converges to the same row state. Any transition error is
// returned so the HTTP layer answers 500 and the provider redelivers.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, e)
	case SubscriptionChanged:
		return s.applySubscriptionChanged(ctx, e)
	case SubscriptionEnded:
		return s.applyStatus(ctx, e.SubscriptionID, StatusCanceled)
	case PaymentFailed:
		return s.applyStatus(ctx, e.SubscriptionID, StatusPastDue)
	case RenewalPaid:
		return s.applyRenewalPaid(ctx, e)
	case Unrecognized:
		s.log.DebugContext(ctx, "webhook event ignored", "type", e.Type)
		return nil
	default:
		return nil
	}
}

// applyCheckoutCompleted provisions the subscriber: upsert the subscription
// from the provider's current view, grant the full entitlement set expiring
// at the period end, and promote the profile role to creator. Replaying the
// event repeats the same keyed writes and changes nothing.
func (s *Service) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	userID, err := uuid.Parse(e.UserID)
	if err != nil {
		return fmt.Errorf("invalid user ID in checkout metadata: %w", err)
	}

	// Status, plan, and period bounds are copied from the provider, never
	// assumed from the checkout session alone.
	providerSub, err := s.provider.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", e.SubscriptionID, err)
	}

	now := s.now()
	sub := &Subscription{
		UserID:             userID,
		Status:             providerSub.Status,
		ProviderCustomerID: providerSub.CustomerID,
		ProviderSubID:      providerSub.ID,
		ProviderPriceID:    providerSub.PriceID,
		CurrentPeriodStart: providerSub.CurrentPeriodStart,
		CurrentPeriodEnd:   providerSub.CurrentPeriodEnd,
		TrialEnd:           providerSub.TrialEnd,
		CancelAtPeriodEnd:  providerSub.CancelAtPeriodEnd,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if plan, ok := s.prices.PlanFor(providerSub.PriceID); ok {
		sub.Plan = plan
	}

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	var expiresAt *time.Time
	if !providerSub.CurrentPeriodEnd.IsZero() {
		end := providerSub.CurrentPeriodEnd
		expiresAt = &end
	}
	for _, feature := range AllFeatures {
		ent := &Entitlement{
			UserID:    userID,
			Feature:   feature,
			Active:    true,
			ExpiresAt: expiresAt,
			UpdatedAt: now,
		}
		if err := s.entitlements.Upsert(ctx, ent); err != nil {
			return fmt.Errorf("upsert entitlement %s: %w", feature, err)
		}
	}

	if err := s.profiles.SetRole(ctx, userID, RoleCreator); err != nil {
		return fmt.Errorf("promote role: %w", err)
	}

	s.publish(ctx, userID, changefeed.OpInsert)
	s.log.InfoContext(ctx, "checkout completed",
		"user_id", userID,
		"subscription_id", providerSub.ID,
		"status", sub.Status,
		"plan", sub.Plan)

	return nil
}

// applySubscriptionChanged updates status, plan, price, and period bounds on
// the existing row. Entitlements are intentionally left untouched: refresh
// is deferred to the next active reconciliation or the scheduled lapse of
// ExpiresAt, which keeps a grace period on admin-initiated downgrades.
func (s *Service) applySubscriptionChanged(ctx context.Context, e SubscriptionChanged) error {
	sub, err := s.subscriptions.GetByProviderID(ctx, e.Subscription.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Out-of-order delivery: an update arrived before the checkout
			// completion created the row. Acknowledge and let the
			// completion event establish state.
			s.log.WarnContext(ctx, "update for unknown subscription ignored",
				"subscription_id", e.Subscription.ID)
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	sub.Status = e.Subscription.Status
	sub.ProviderPriceID = e.Subscription.PriceID
	if plan, ok := s.prices.PlanFor(e.Subscription.PriceID); ok {
		sub.Plan = plan
	}
	if !e.Subscription.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = e.Subscription.CurrentPeriodStart
	}
	if !e.Subscription.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = e.Subscription.CurrentPeriodEnd
	}
	sub.TrialEnd = e.Subscription.TrialEnd
	sub.CancelAtPeriodEnd = e.Subscription.CancelAtPeriodEnd
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	s.publish(ctx, sub.UserID, changefeed.OpUpdate)
	s.log.InfoContext(ctx, "subscription updated",
		"user_id", sub.UserID,
		"subscription_id", sub.ProviderSubID,
		"status", sub.Status)

	return nil
}

// applyStatus sets a single status field by provider subscription ID.
// Covers both cancellation and payment failure; entitlements lapse
// naturally via their ExpiresAt.
func (s *Service) applyStatus(ctx context.Context, providerSubID string, status Status) error {
	sub, err := s.subscriptions.GetByProviderID(ctx, providerSubID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.log.WarnContext(ctx, "status change for unknown subscription ignored",
				"subscription_id", providerSubID,
				"status", status)
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	sub.Status = status
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}

	s.publish(ctx, sub.UserID, changefeed.OpUpdate)
	s.log.InfoContext(ctx, "subscription status changed",
		"user_id", sub.UserID,
		"subscription_id", providerSubID,
		"status", status)

	return nil
}

// applyRenewalPaid re-fetches the subscription from the provider and marks
// it active with fresh period bounds. The provider read rather than the
// invoice payload is authoritative for the new billing window.
func (s *Service) applyRenewalPaid(ctx context.Context, e RenewalPaid) error {
	sub, err := s.subscriptions.GetByProviderID(ctx, e.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.log.WarnContext(ctx, "renewal for unknown subscription ignored",
				"subscription_id", e.SubscriptionID)
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	providerSub, err := s.provider.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", e.SubscriptionID, err)
	}

	sub.Status = StatusActive
	if !providerSub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = providerSub.CurrentPeriodStart
	}
	if !providerSub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = providerSub.CurrentPeriodEnd
	}
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("update subscription after renewal: %w", err)
	}

	s.publish(ctx, sub.UserID, changefeed.OpUpdate)
	s.log.InfoContext(ctx, "renewal recorded",
		"user_id", sub.UserID,
		"subscription_id", e.SubscriptionID)

	return nil
}

// Summary returns the derived billing view for a user. A missing row is not
// an error: it is the "never subscribed" state, distinct from suspended.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (StatusSummary, error) {
	sub, err := s.subscriptions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return StatusSummary{}, nil
		}
		return StatusSummary{}, err
	}
	return SummaryFor(sub), nil
}

// Reconcile re-derives a user's local state directly from the provider,
// correcting drift left by missed or out-of-order webhooks. When the
// provider no longer reports an active or trialing subscription, the user's
// entitlements are explicitly deactivated; this is the only mutation path
// outside webhook ingestion.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (StatusSummary, error) {
	sub, err := s.subscriptions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return StatusSummary{}, nil
		}
		return StatusSummary{}, err
	}

	providerSub, err := s.provider.GetSubscription(ctx, sub.ProviderSubID)
	if err != nil {
		return StatusSummary{}, fmt.Errorf("fetch subscription %s: %w", sub.ProviderSubID, err)
	}

	sub.Status = providerSub.Status
	sub.ProviderPriceID = providerSub.PriceID
	if plan, ok := s.prices.PlanFor(providerSub.PriceID); ok {
		sub.Plan = plan
	}
	if !providerSub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = providerSub.CurrentPeriodStart
	}
	if !providerSub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = providerSub.CurrentPeriodEnd
	}
	sub.TrialEnd = providerSub.TrialEnd
	sub.CancelAtPeriodEnd = providerSub.CancelAtPeriodEnd
	sub.UpdatedAt = s.now()

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return StatusSummary{}, fmt.Errorf("update subscription: %w", err)
	}

	if active, _ := Summarize(sub.Status); !active {
		if err := s.entitlements.DeactivateAll(ctx, userID); err != nil {
			return StatusSummary{}, fmt.Errorf("deactivate entitlements: %w", err)
		}
	}

	s.publish(ctx, userID, changefeed.OpUpdate)
	s.log.InfoContext(ctx, "subscription reconciled",
		"user_id", userID,
		"subscription_id", sub.ProviderSubID,
		"status", sub.Status)

	return SummaryFor(sub), nil
}

func (s *Service) publish(ctx context.Context, userID uuid.UUID, op changefeed.Op) {
	if s.feed == nil {
		return
	}
	_ = s.feed.Publish(ctx, changefeed.Change[uuid.UUID]{Key: userID, Op: op})
}
