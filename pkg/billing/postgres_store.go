package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriptionStore implements SubscriptionStore on pgx. The upsert
// conflicts on provider_sub_id, which is what makes replayed webhook events
// converge: the same event always rewrites the same row atomically.
type PostgresSubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionStore(pool *pgxpool.Pool) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{pool: pool}
}

const subscriptionColumns = `user_id, status, plan, provider_customer_id, provider_sub_id,
	provider_price_id, current_period_start, current_period_end, trial_end,
	cancel_at_period_end, created_at, updated_at`

func (s *PostgresSubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	// The newest row is authoritative when historical canceled rows exist.
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	return scanSubscription(row)
}

func (s *PostgresSubscriptionStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider_sub_id = $1`, providerSubID)
	return scanSubscription(row)
}

func (s *PostgresSubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_sub_id) DO UPDATE SET
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			provider_customer_id = EXCLUDED.provider_customer_id,
			provider_price_id = EXCLUDED.provider_price_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_end = EXCLUDED.trial_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.Status, sub.Plan, sub.ProviderCustomerID, sub.ProviderSubID,
		sub.ProviderPriceID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.UserID, &sub.Status, &sub.Plan, &sub.ProviderCustomerID, &sub.ProviderSubID,
		&sub.ProviderPriceID, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEnd,
		&sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

// PostgresEntitlementStore implements EntitlementStore on pgx, keyed by
// (user_id, feature).
type PostgresEntitlementStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEntitlementStore(pool *pgxpool.Pool) *PostgresEntitlementStore {
	return &PostgresEntitlementStore{pool: pool}
}

func (s *PostgresEntitlementStore) Get(ctx context.Context, userID uuid.UUID, feature Feature) (*Entitlement, error) {
	var ent Entitlement
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, feature, active, expires_at, updated_at
		FROM entitlements
		WHERE user_id = $1 AND feature = $2`, userID, feature).
		Scan(&ent.UserID, &ent.Feature, &ent.Active, &ent.ExpiresAt, &ent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return &ent, nil
}

func (s *PostgresEntitlementStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Entitlement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, feature, active, expires_at, updated_at
		FROM entitlements
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var result []Entitlement
	for rows.Next() {
		var ent Entitlement
		if err := rows.Scan(&ent.UserID, &ent.Feature, &ent.Active, &ent.ExpiresAt, &ent.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		result = append(result, ent)
	}
	return result, rows.Err()
}

func (s *PostgresEntitlementStore) Upsert(ctx context.Context, ent *Entitlement) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entitlements (user_id, feature, active, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, feature) DO UPDATE SET
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		ent.UserID, ent.Feature, ent.Active, ent.ExpiresAt, ent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}
	return nil
}

func (s *PostgresEntitlementStore) DeactivateAll(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE entitlements
		SET active = false, updated_at = now()
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate entitlements: %w", err)
	}
	return nil
}

// PostgresProfileStore implements ProfileStore on pgx against the shared
// profiles table. Only the role column is touched here.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

func (s *PostgresProfileStore) Role(ctx context.Context, userID uuid.UUID) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProfileNotFound
		}
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (s *PostgresProfileStore) SetRole(ctx context.Context, userID uuid.UUID, role Role) error {
	_, err := s.pool.Exec(ctx, `UPDATE profiles SET role = $2 WHERE id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}
