package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe payment provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements PaymentProvider for Stripe.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe payment provider with its own API
// client, avoiding the SDK's global key.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// CreateCheckout creates a hosted checkout session in subscription mode. The
// user ID is written to both the session metadata and the subscription
// metadata; the session copy is what the webhook handler reads to attribute
// the subscription to a user.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.UserID),
		Metadata: map[string]string{
			"user_id": req.UserID,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": req.UserID,
			},
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(req.TrialDays)
	}
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

// GetSubscription fetches the subscription from Stripe and normalizes it.
func (p *StripeProvider) GetSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	sub, err := p.api.Subscriptions.Get(providerSubID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}

	normalized := &ProviderSubscription{
		ID:                sub.ID,
		Status:            mapStripeStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		normalized.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		normalized.TrialEnd = &trialEnd
	}

	// Period bounds and price live on the subscription item.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			normalized.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			normalized.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			normalized.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	return normalized, nil
}

// ParseWebhook verifies the raw payload against the signing secret and
// decodes it into a typed event. Verification happens before any parsing;
// a bad signature never produces an event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		if session.Mode != "subscription" || session.Subscription == "" {
			// One-off payment sessions carry no subscription to track.
			return Unrecognized{Type: string(event.Type)}, nil
		}
		userID := session.Metadata["user_id"]
		if userID == "" {
			userID = session.ClientReferenceID
		}
		return CheckoutCompleted{
			UserID:         userID,
			CustomerID:     session.Customer,
			SubscriptionID: session.Subscription,
		}, nil

	case "customer.subscription.updated":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionChanged{Subscription: sub}, nil

	case "customer.subscription.deleted":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionEnded{SubscriptionID: sub.ID}, nil

	case "invoice.payment_failed":
		invoice, err := decodeStripeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		if invoice.subscriptionID() == "" {
			return Unrecognized{Type: string(event.Type)}, nil
		}
		return PaymentFailed{SubscriptionID: invoice.subscriptionID()}, nil

	case "invoice.payment_succeeded":
		invoice, err := decodeStripeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		// The initial payment is handled by checkout.session.completed;
		// only renewals transition the subscription here.
		if invoice.subscriptionID() == "" || invoice.BillingReason == "subscription_create" {
			return Unrecognized{Type: string(event.Type)}, nil
		}
		return RenewalPaid{SubscriptionID: invoice.subscriptionID()}, nil

	default:
		return Unrecognized{Type: string(event.Type)}, nil
	}
}

// Thin payload structs decoded from event.Data.Raw. Decoding our own shapes
// keeps the handler stable across Stripe API version drift in the SDK's
// full structs.
type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeEventSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	TrialEnd          int64  `json:"trial_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type stripeEventInvoice struct {
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID handles both the legacy top-level field and the newer
// parent.subscription_details location.
func (i stripeEventInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func decodeStripeSubscription(raw json.RawMessage) (ProviderSubscription, error) {
	var sub stripeEventSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return ProviderSubscription{}, fmt.Errorf("decode subscription: %w", err)
	}

	normalized := ProviderSubscription{
		ID:                sub.ID,
		CustomerID:        sub.Customer,
		Status:            mapStripeStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		normalized.TrialEnd = &trialEnd
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		normalized.PriceID = item.Price.ID
		if item.CurrentPeriodStart > 0 {
			normalized.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			normalized.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return normalized, nil
}

func decodeStripeInvoice(raw json.RawMessage) (stripeEventInvoice, error) {
	var invoice stripeEventInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return stripeEventInvoice{}, fmt.Errorf("decode invoice: %w", err)
	}
	return invoice, nil
}

// mapStripeStatus maps Stripe subscription statuses to the internal enum.
// Unknown statuses pass through as-is so new provider states are stored
// rather than dropped.
func mapStripeStatus(s string) Status {
	switch s {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	default:
		return Status(s)
	}
}
