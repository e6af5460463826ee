package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests and
// local development. Safe for concurrent use.
type MemorySubscriptionStore struct {
	byProviderID map[string]Subscription
	mu           sync.RWMutex
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		byProviderID: make(map[string]Subscription),
	}
}

func (m *MemorySubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.byProviderID {
		if sub.UserID == userID {
			s := sub
			return &s, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemorySubscriptionStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byProviderID[providerSubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	s := sub
	return &s, nil
}

func (m *MemorySubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byProviderID[sub.ProviderSubID]; ok {
		// CreatedAt and UserID are immutable after creation.
		sub.CreatedAt = existing.CreatedAt
		sub.UserID = existing.UserID
	}
	m.byProviderID[sub.ProviderSubID] = *sub
	return nil
}

// Count returns the number of stored rows. Test helper.
func (m *MemorySubscriptionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byProviderID)
}

type entitlementKey struct {
	userID  uuid.UUID
	feature Feature
}

// MemoryEntitlementStore is an in-memory EntitlementStore for tests and
// local development. Safe for concurrent use.
type MemoryEntitlementStore struct {
	rows map[entitlementKey]Entitlement
	mu   sync.RWMutex
}

func NewMemoryEntitlementStore() *MemoryEntitlementStore {
	return &MemoryEntitlementStore{
		rows: make(map[entitlementKey]Entitlement),
	}
}

func (m *MemoryEntitlementStore) Get(ctx context.Context, userID uuid.UUID, feature Feature) (*Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ent, ok := m.rows[entitlementKey{userID, feature}]
	if !ok {
		return nil, ErrEntitlementNotFound
	}
	e := ent
	return &e, nil
}

func (m *MemoryEntitlementStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entitlement
	for key, ent := range m.rows {
		if key.userID == userID {
			result = append(result, ent)
		}
	}
	return result, nil
}

func (m *MemoryEntitlementStore) Upsert(ctx context.Context, ent *Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[entitlementKey{ent.UserID, ent.Feature}] = *ent
	return nil
}

func (m *MemoryEntitlementStore) DeactivateAll(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, ent := range m.rows {
		if key.userID == userID {
			ent.Active = false
			m.rows[key] = ent
		}
	}
	return nil
}

// MemoryProfileStore is an in-memory ProfileStore for tests and local
// development. Unknown users default to the follower role so tests need no
// seeding step. Safe for concurrent use.
type MemoryProfileStore struct {
	roles map[uuid.UUID]Role
	mu    sync.RWMutex
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		roles: make(map[uuid.UUID]Role),
	}
}

func (m *MemoryProfileStore) Role(ctx context.Context, userID uuid.UUID) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[userID]
	if !ok {
		return RoleFollower, nil
	}
	return role, nil
}

func (m *MemoryProfileStore) SetRole(ctx context.Context, userID uuid.UUID, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roles[userID] = role
	return nil
}
