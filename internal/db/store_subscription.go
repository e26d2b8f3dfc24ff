package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// UpsertSubscription records a subscription by purchase token, updating
// status and expiry on re-verification of a known token.
func (db *DB) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO subscriptions (id, identity_id, product_id, purchase_token, status, is_pending, started_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (purchase_token) DO UPDATE SET
			status = EXCLUDED.status,
			is_pending = EXCLUDED.is_pending,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, sub.ID, sub.IdentityID, sub.ProductID, sub.PurchaseToken, sub.Status, sub.IsPending, sub.StartedAt, sub.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ActiveSubscription returns the identity's active subscription with the
// latest expiry, or ErrNotFound when nothing is active.
func (db *DB) ActiveSubscription(ctx context.Context, identityID uuid.UUID) (*models.Subscription, error) {
	var s models.Subscription
	err := db.Pool.QueryRow(ctx, `
		SELECT id, identity_id, product_id, purchase_token, status, is_pending, started_at, expires_at, created_at, updated_at
		FROM subscriptions
		WHERE identity_id = $1 AND status = $2 AND expires_at > NOW()
		ORDER BY expires_at DESC
		LIMIT 1
	`, identityID, models.SubscriptionActive).Scan(
		&s.ID, &s.IdentityID, &s.ProductID, &s.PurchaseToken, &s.Status, &s.IsPending,
		&s.StartedAt, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &s, nil
}

// HasPurchaseHistory reports whether the identity ever held a subscription,
// active or not.
func (db *DB) HasPurchaseHistory(ctx context.Context, identityID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM subscriptions WHERE identity_id = $1)
	`, identityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check purchase history: %w", err)
	}
	return exists, nil
}

// HasPendingSubscription reports whether the identity has a purchase awaiting
// external approval.
func (db *DB) HasPendingSubscription(ctx context.Context, identityID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM subscriptions WHERE identity_id = $1 AND is_pending = TRUE)
	`, identityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending subscription: %w", err)
	}
	return exists, nil
}
