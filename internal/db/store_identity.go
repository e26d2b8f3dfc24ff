package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// CreateIdentity inserts a new identity. A duplicate email returns
// ErrIdentityExists.
func (db *DB) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO identities (id, email, credential_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, identity.ID, identity.Email, identity.CredentialHash, identity.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdentityExists
		}
		return fmt.Errorf("create identity: %w", err)
	}

	db.logger.Info().Str("identity_id", identity.ID.String()).Msg("identity created")
	return nil
}

// GetIdentityByCredentialHash resolves a bearer credential hash to an
// identity. Used by the auth middleware on every authenticated request.
func (db *DB) GetIdentityByCredentialHash(ctx context.Context, hash string) (*models.Identity, error) {
	var identity models.Identity
	err := db.Pool.QueryRow(ctx, `
		SELECT id, email, credential_hash, created_at
		FROM identities
		WHERE credential_hash = $1
	`, hash).Scan(&identity.ID, &identity.Email, &identity.CredentialHash, &identity.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity by credential: %w", err)
	}
	return &identity, nil
}
