package billing

// Status represents the current state of a subscription as reported by the
// payment provider. Status transitions are driven exclusively by inbound
// provider events or an explicit reconciliation read, never inferred locally.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Plan represents the billing interval the subscriber pays on.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Feature represents a named capability granted by an active subscription.
type Feature string

const (
	FeatureCreatorPro           Feature = "creator_pro"
	FeatureUnlimitedProducts    Feature = "unlimited_products"
	FeatureUnlimitedCollections Feature = "unlimited_collections"
	FeatureAnalytics            Feature = "analytics"
	FeatureVerifiedBadge        Feature = "verified_badge"
)

// AllFeatures lists every feature granted when a subscription becomes active.
// Entitlements are always written as a full set so feature checks never see a
// partially provisioned account.
var AllFeatures = []Feature{
	FeatureCreatorPro,
	FeatureUnlimitedProducts,
	FeatureUnlimitedCollections,
	FeatureAnalytics,
	FeatureVerifiedBadge,
}

// Role represents a profile's access tier. Followers are promoted to creators
// on their first successful checkout.
type Role string

const (
	RoleFollower Role = "follower"
	RoleCreator  Role = "creator"
)

// PriceTable maps the provider's opaque price identifiers to plans.
// The mapping is static configuration; an unknown price ID fails checkout
// initiation but is tolerated on inbound webhooks (plan left unchanged).
type PriceTable struct {
	Monthly string `env:"STRIPE_PRICE_MONTHLY,required"`
	Annual  string `env:"STRIPE_PRICE_ANNUAL,required"`
}

// PlanFor resolves a provider price ID to a plan.
func (t PriceTable) PlanFor(priceID string) (Plan, bool) {
	switch priceID {
	case t.Monthly:
		return PlanMonthly, true
	case t.Annual:
		return PlanAnnual, true
	default:
		return "", false
	}
}

// PriceFor returns the provider price ID for a plan.
func (t PriceTable) PriceFor(plan Plan) (string, bool) {
	switch plan {
	case PlanMonthly:
		return t.Monthly, true
	case PlanAnnual:
		return t.Annual, true
	default:
		return "", false
	}
}

// Known reports whether the price ID belongs to the static lookup table.
func (t PriceTable) Known(priceID string) bool {
	_, ok := t.PlanFor(priceID)
	return ok
}
