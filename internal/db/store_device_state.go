package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// UpsertDeviceState records the latest state a device reported. One row per
// identity/device pair; newer reports overwrite.
func (db *DB) UpsertDeviceState(ctx context.Context, state *models.DeviceState) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO device_states (id, identity_id, device_fingerprint, status, trial_start_date, subscription_start, subscription_end, product_id, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity_id, device_fingerprint) DO UPDATE SET
			status = EXCLUDED.status,
			trial_start_date = EXCLUDED.trial_start_date,
			subscription_start = EXCLUDED.subscription_start,
			subscription_end = EXCLUDED.subscription_end,
			product_id = EXCLUDED.product_id,
			reported_at = EXCLUDED.reported_at
	`, state.ID, state.IdentityID, state.DeviceFingerprint, state.Status,
		state.TrialStartDate, state.SubscriptionStart, state.SubscriptionEnd,
		state.ProductID, state.ReportedAt)
	if err != nil {
		return fmt.Errorf("upsert device state: %w", err)
	}
	return nil
}

// ListDeviceStates returns the reported states for an identity, newest first.
func (db *DB) ListDeviceStates(ctx context.Context, identityID uuid.UUID) ([]*models.DeviceState, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, identity_id, device_fingerprint, status, trial_start_date, subscription_start, subscription_end, product_id, reported_at
		FROM device_states
		WHERE identity_id = $1
		ORDER BY reported_at DESC
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list device states: %w", err)
	}
	defer rows.Close()

	var states []*models.DeviceState
	for rows.Next() {
		var s models.DeviceState
		var productID *string
		err := rows.Scan(&s.ID, &s.IdentityID, &s.DeviceFingerprint, &s.Status,
			&s.TrialStartDate, &s.SubscriptionStart, &s.SubscriptionEnd, &productID, &s.ReportedAt)
		if err != nil {
			return nil, fmt.Errorf("scan device state: %w", err)
		}
		if productID != nil {
			s.ProductID = *productID
		}
		states = append(states, &s)
	}

	return states, rows.Err()
}

// PruneDeviceStates removes reports older than the cutoff. Run by the
// maintenance sweep.
func (db *DB) PruneDeviceStates(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM device_states WHERE reported_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune device states: %w", err)
	}

	count := int(result.RowsAffected())
	if count > 0 {
		db.logger.Info().Int("count", count).Msg("pruned stale device states")
	}

	return count, nil
}
