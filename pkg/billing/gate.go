package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FeatureGate answers "does this user have this feature" from the
// entitlement cache. Expiry is evaluated lazily at read time; no
// deactivation write is required for a lapsed entitlement to read as
// inactive. The gate fails closed: any error denies access.
type FeatureGate struct {
	store EntitlementStore
	cache *redis.Client
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// GateOption configures optional FeatureGate settings.
type GateOption func(*FeatureGate)

// WithCache adds a Redis read-through cache in front of the store. Cache
// failures degrade to direct store reads.
func WithCache(cache *redis.Client, ttl time.Duration) GateOption {
	return func(g *FeatureGate) {
		g.cache = cache
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *FeatureGate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithGateClock overrides the gate clock. Intended for tests.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *FeatureGate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewFeatureGate creates a feature gate backed by the entitlement store.
func NewFeatureGate(store EntitlementStore, opts ...GateOption) *FeatureGate {
	if store == nil {
		panic("billing: EntitlementStore is required")
	}

	g := &FeatureGate{
		store: store,
		ttl:   time.Minute,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Allowed reports whether the feature is granted to the user right now.
func (g *FeatureGate) Allowed(ctx context.Context, userID uuid.UUID, feature Feature) (bool, error) {
	if g.cache != nil {
		if granted, ok := g.cachedGrant(ctx, userID, feature); ok {
			return granted, nil
		}
	}

	ent, err := g.store.Get(ctx, userID, feature)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			g.writeCache(ctx, userID, feature, false)
			return false, nil
		}
		return false, err
	}

	granted := ent.GrantedAt(g.now())
	g.writeCache(ctx, userID, feature, granted)
	return granted, nil
}

// Invalidate drops cached grants for a user, forcing the next check through
// the store. Called after entitlement writes when a cache is configured.
func (g *FeatureGate) Invalidate(ctx context.Context, userID uuid.UUID) {
	if g.cache == nil {
		return
	}
	keys := make([]string, 0, len(AllFeatures))
	for _, feature := range AllFeatures {
		keys = append(keys, gateKey(userID, feature))
	}
	if err := g.cache.Del(ctx, keys...).Err(); err != nil {
		g.log.WarnContext(ctx, "entitlement cache invalidation failed",
			"user_id", userID,
			"error", err)
	}
}

func (g *FeatureGate) cachedGrant(ctx context.Context, userID uuid.UUID, feature Feature) (granted, ok bool) {
	val, err := g.cache.Get(ctx, gateKey(userID, feature)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.log.DebugContext(ctx, "entitlement cache read failed", "error", err)
		}
		return false, false
	}
	return val == "1", true
}

func (g *FeatureGate) writeCache(ctx context.Context, userID uuid.UUID, feature Feature, granted bool) {
	if g.cache == nil {
		return
	}
	val := "0"
	if granted {
		val = "1"
	}
	if err := g.cache.Set(ctx, gateKey(userID, feature), val, g.ttl).Err(); err != nil {
		g.log.DebugContext(ctx, "entitlement cache write failed", "error", err)
	}
}

func gateKey(userID uuid.UUID, feature Feature) string {
	return fmt.Sprintf("entitlement:%s:%s", userID, feature)
}
