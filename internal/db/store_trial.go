package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

const uniqueViolation = "23505"

// CreateTrial inserts a trial record. The unique constraints on identity and
// device make concurrent claims a database-level race; the loser gets
// ErrTrialExists and adopts the winner's record.
func (db *DB) CreateTrial(ctx context.Context, trial *models.Trial) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO trials (id, identity_id, device_fingerprint, status, started_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, trial.ID, trial.IdentityID, trial.DeviceFingerprint, trial.Status, trial.StartedAt, trial.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrTrialExists
		}
		return fmt.Errorf("create trial: %w", err)
	}

	db.logger.Info().
		Str("identity_id", trial.IdentityID.String()).
		Time("expires_at", trial.ExpiresAt).
		Msg("trial started")

	return nil
}

// GetTrialByIdentity returns the trial record for an identity, or ErrNotFound.
func (db *DB) GetTrialByIdentity(ctx context.Context, identityID uuid.UUID) (*models.Trial, error) {
	return db.getTrial(ctx, `WHERE identity_id = $1`, identityID)
}

// GetTrialByDevice returns the trial record consumed on a device, regardless
// of identity, or ErrNotFound.
func (db *DB) GetTrialByDevice(ctx context.Context, fingerprint string) (*models.Trial, error) {
	return db.getTrial(ctx, `WHERE device_fingerprint = $1`, fingerprint)
}

func (db *DB) getTrial(ctx context.Context, where string, arg any) (*models.Trial, error) {
	var t models.Trial
	err := db.Pool.QueryRow(ctx, `
		SELECT id, identity_id, device_fingerprint, status, started_at, expires_at, created_at, updated_at
		FROM trials `+where,
		arg,
	).Scan(&t.ID, &t.IdentityID, &t.DeviceFingerprint, &t.Status, &t.StartedAt, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trial: %w", err)
	}
	return &t, nil
}

// ExpireTrials marks all active trials whose window has closed and returns
// the affected records so the caller can evict their cache entries. Run by
// the maintenance sweep.
func (db *DB) ExpireTrials(ctx context.Context) ([]*models.Trial, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE trials SET
			status = $1,
			updated_at = NOW()
		WHERE status = $2 AND expires_at < NOW()
		RETURNING id, identity_id, device_fingerprint, status, started_at, expires_at, created_at, updated_at
	`, models.TrialExpired, models.TrialActive)
	if err != nil {
		return nil, fmt.Errorf("expire trials: %w", err)
	}
	defer rows.Close()

	var expired []*models.Trial
	for rows.Next() {
		var t models.Trial
		if err := rows.Scan(&t.ID, &t.IdentityID, &t.DeviceFingerprint, &t.Status, &t.StartedAt, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan expired trial: %w", err)
		}
		expired = append(expired, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire trials: %w", err)
	}

	if len(expired) > 0 {
		db.logger.Info().Int("count", len(expired)).Msg("expired trials")
	}

	return expired, nil
}

// CountActiveTrials returns the number of trials still inside their window.
func (db *DB) CountActiveTrials(ctx context.Context) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trials WHERE status = $1 AND expires_at > NOW()
	`, models.TrialActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active trials: %w", err)
	}
	return count, nil
}

// ConvertTrial marks an identity's trial as converted after a purchase.
func (db *DB) ConvertTrial(ctx context.Context, identityID uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE trials SET
			status = $2,
			updated_at = NOW()
		WHERE identity_id = $1 AND status = $3
	`, identityID, models.TrialConverted, models.TrialActive)
	if err != nil {
		return fmt.Errorf("convert trial: %w", err)
	}
	return nil
}

// NewTrial builds an active trial record for an identity and device starting
// now with the given duration.
func NewTrial(identityID uuid.UUID, fingerprint string, now time.Time, duration time.Duration) *models.Trial {
	return &models.Trial{
		ID:                uuid.New(),
		IdentityID:        identityID,
		DeviceFingerprint: fingerprint,
		Status:            models.TrialActive,
		StartedAt:         now,
		ExpiresAt:         now.Add(duration),
	}
}
