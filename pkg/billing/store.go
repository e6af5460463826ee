package billing

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionStore persists subscription records. Upsert keys on
// ProviderSubID so replayed provider events converge to the same row;
// correctness under concurrent webhook deliveries relies on the
// implementation making each upsert atomic per row (last write wins).
type SubscriptionStore interface {
	// Get returns the subscription for a user.
	// Returns ErrSubscriptionNotFound if none exists.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByProviderID returns the subscription with the given provider
	// subscription ID. Returns ErrSubscriptionNotFound if none exists.
	GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// Upsert inserts the record if its ProviderSubID is new, otherwise
	// overwrites the existing row's mutable fields.
	Upsert(ctx context.Context, sub *Subscription) error
}

// EntitlementStore persists per-user feature grants keyed by
// (UserID, Feature). Rows are overwritten, never appended.
type EntitlementStore interface {
	// Get returns a single entitlement.
	// Returns ErrEntitlementNotFound if none exists.
	Get(ctx context.Context, userID uuid.UUID, feature Feature) (*Entitlement, error)

	// ListByUser returns all entitlement rows for a user.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Entitlement, error)

	// Upsert creates or overwrites an entitlement row.
	Upsert(ctx context.Context, ent *Entitlement) error

	// DeactivateAll flips every entitlement row for a user to inactive.
	// Rows are kept so reactivation is a plain upsert.
	DeactivateAll(ctx context.Context, userID uuid.UUID) error
}

// ProfileStore exposes the single profile field this service writes: the
// role, promoted to creator on first successful checkout.
type ProfileStore interface {
	// Role returns the user's current role.
	// Returns ErrProfileNotFound if the profile does not exist.
	Role(ctx context.Context, userID uuid.UUID) (Role, error)

	// SetRole writes the user's role. The write is idempotent.
	SetRole(ctx context.Context, userID uuid.UUID, role Role) error
}
