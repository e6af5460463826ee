package billing

import (
	"context"
	"time"
)

// PaymentProvider is the I/O boundary to the external billing service of
// record. Implementations must verify webhook authenticity before any
// parsing; an event returned from ParseWebhook is guaranteed to be genuine.
type PaymentProvider interface {
	// CreateCheckout creates a hosted checkout session in subscription mode.
	// The user ID travels in session metadata; it is the join key that lets
	// the webhook handler attribute the resulting subscription to a user.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetSubscription fetches the current subscription state from the
	// provider. Used after checkout completion and during reconciliation,
	// where the provider is read directly to correct local drift.
	GetSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)

	// ParseWebhook verifies the raw payload against the signing secret and
	// decodes it into a typed event. Returns ErrInvalidSignature (wrapped)
	// when verification fails; no event is produced in that case.
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// CheckoutRequest carries the inputs for a hosted checkout session.
type CheckoutRequest struct {
	PriceID    string
	UserID     string // embedded in session metadata
	TrialDays  int64
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's hosted checkout session. The caller's
// browser is redirected to URL.
type CheckoutSession struct {
	ID  string
	URL string
}

// ProviderSubscription is the normalized provider-side view of a
// subscription, independent of any one SDK's payload shape.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
}

// Event is a verified webhook event, expressed as a tagged union over the
// known provider event types. Unrecognized types decode to Unrecognized and
// are acknowledged without effect.
type Event interface {
	isEvent()
}

// CheckoutCompleted signals a finished checkout session with an attached
// subscription. UserID comes from the session metadata written at checkout
// initiation.
type CheckoutCompleted struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
}

// SubscriptionChanged signals a provider-side update to an existing
// subscription (plan change, scheduled cancellation, status flip).
type SubscriptionChanged struct {
	Subscription ProviderSubscription
}

// SubscriptionEnded signals that the provider terminated the subscription.
type SubscriptionEnded struct {
	SubscriptionID string
}

// PaymentFailed signals a failed invoice payment for a subscription.
type PaymentFailed struct {
	SubscriptionID string
}

// RenewalPaid signals a successful non-initial invoice payment. Initial
// payments are excluded; those are covered by CheckoutCompleted.
type RenewalPaid struct {
	SubscriptionID string
}

// Unrecognized is the no-op arm for event types this service does not handle.
type Unrecognized struct {
	Type string
}

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionChanged) isEvent() {}
func (SubscriptionEnded) isEvent()   {}
func (PaymentFailed) isEvent()       {}
func (RenewalPaid) isEvent()         {}
func (Unrecognized) isEvent()        {}
