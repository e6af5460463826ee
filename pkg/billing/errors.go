package billing

import "errors"

var (
	ErrMissingPriceID = errors.New("price ID is required")
	ErrUnknownPriceID = errors.New("price ID does not map to a known plan")

	ErrUnauthenticated = errors.New("missing or invalid caller credential")

	ErrProvider         = errors.New("billing provider request failed")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL    = errors.New("no checkout URL returned from provider")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrEntitlementNotFound  = errors.New("entitlement not found")
	ErrProfileNotFound      = errors.New("profile not found")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
)
