package billing

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is a cached, per-user feature grant keyed by (UserID, Feature).
// Entitlements are derived from subscription state and are never the source
// of truth for billing; they exist for fast feature checks.
type Entitlement struct {
	UserID    uuid.UUID
	Feature   Feature
	Active    bool
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// GrantedAt reports whether the entitlement grants access at the given time.
// Expiry is checked lazily at read time: an entitlement with Active=true but
// ExpiresAt in the past is treated as inactive without requiring a
// deactivation write or a background sweep.
func (e *Entitlement) GrantedAt(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return false
	}
	return true
}

// Granted reports whether the entitlement grants access now.
func (e *Entitlement) Granted() bool {
	return e.GrantedAt(time.Now().UTC())
}
