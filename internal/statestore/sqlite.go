package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
)

// Flag keys in the state_flags table.
const (
	flagRestoreAttempted = "restore_attempted"
	flagRestoreSucceeded = "restore_succeeded"
	flagTrialStart       = "trial_start_date"
	flagDaysRemaining    = "cached_days_remaining"
	flagReminderAt       = "reminder_at"
)

// SQLiteStore implements Store using SQLite for local persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the local state database in the
// PawKeeper config directory.
func NewSQLiteStore(configDir string, logger zerolog.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(configDir, "state.db")

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "state_store").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", dbPath).Msg("state database initialized")

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS subscription_state (
			identity TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			trial_start TEXT,
			days_remaining INTEGER,
			sub_start TEXT,
			sub_expiry TEXT,
			has_purchase_history INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS state_flags (
			identity TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (identity, key)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Snapshot reads the subscription state and every flag for an identity in a
// single transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context, identity string) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{}

	row := tx.QueryRowContext(ctx, `
		SELECT status, trial_start, days_remaining, sub_start, sub_expiry, has_purchase_history
		FROM subscription_state
		WHERE identity = ?
	`, identity)

	var (
		statusStr                      string
		trialStart, subStart, subExpiry sql.NullString
		daysRemaining                  sql.NullInt64
		hasHistory                     int
	)
	err = row.Scan(&statusStr, &trialStart, &daysRemaining, &subStart, &subExpiry, &hasHistory)
	switch {
	case err == sql.ErrNoRows:
		// First run for this identity; flags may still exist.
	case err != nil:
		return nil, fmt.Errorf("scan subscription state: %w", err)
	default:
		status, perr := entitlement.ParseStatus(statusStr)
		if perr != nil {
			return nil, fmt.Errorf("stored state: %w", perr)
		}
		state := &entitlement.SubscriptionState{
			Status:             status,
			HasPurchaseHistory: hasHistory != 0,
		}
		state.TrialStartDate = parseNullTime(trialStart)
		state.SubscriptionStart = parseNullTime(subStart)
		state.SubscriptionExpiry = parseNullTime(subExpiry)
		if daysRemaining.Valid {
			d := int(daysRemaining.Int64)
			state.DaysRemaining = &d
		}
		snap.State = state
	}

	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM state_flags WHERE identity = ?`, identity)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		switch key {
		case flagRestoreAttempted:
			snap.RestoreAttempted = parseBoolFlag(value)
		case flagRestoreSucceeded:
			snap.RestoreSucceeded = parseBoolFlag(value)
		case flagTrialStart:
			snap.TrialStartDate = parseTimeFlag(value)
		case flagDaysRemaining:
			if n, err := strconv.Atoi(value); err == nil {
				snap.CachedDaysRemaining = &n
			}
		case flagReminderAt:
			snap.ReminderAt = parseTimeFlag(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}

	return snap, nil
}

// ApplyChanges writes the conclusions of a reconciliation run atomically.
func (s *SQLiteStore) ApplyChanges(ctx context.Context, identity string, apply *Apply) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	if apply.State != nil {
		if err := upsertState(ctx, tx, identity, apply.State); err != nil {
			return err
		}
	}

	if apply.ClearRestoreFlags {
		if err := deleteFlags(ctx, tx, identity, flagRestoreAttempted, flagRestoreSucceeded); err != nil {
			return err
		}
	} else {
		if apply.RestoreAttempted != nil {
			if err := setFlag(ctx, tx, identity, flagRestoreAttempted, strconv.FormatBool(*apply.RestoreAttempted)); err != nil {
				return err
			}
		}
		if apply.RestoreSucceeded != nil {
			if err := setFlag(ctx, tx, identity, flagRestoreSucceeded, strconv.FormatBool(*apply.RestoreSucceeded)); err != nil {
				return err
			}
		}
	}

	if apply.TrialStartDate != nil {
		if err := setFlag(ctx, tx, identity, flagTrialStart, apply.TrialStartDate.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if apply.CachedDaysRemaining != nil {
		if err := setFlag(ctx, tx, identity, flagDaysRemaining, strconv.Itoa(*apply.CachedDaysRemaining)); err != nil {
			return err
		}
	}
	if apply.ClearReminder {
		if err := deleteFlags(ctx, tx, identity, flagReminderAt); err != nil {
			return err
		}
	} else if apply.ReminderAt != nil {
		if err := setFlag(ctx, tx, identity, flagReminderAt, apply.ReminderAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}

	return nil
}

// ClearIdentity removes all local rows for an identity.
func (s *SQLiteStore) ClearIdentity(ctx context.Context, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_state WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete subscription state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_flags WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete flags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}

	s.logger.Info().Str("identity", identity).Msg("local subscription state cleared")
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func upsertState(ctx context.Context, tx *sql.Tx, identity string, state *entitlement.SubscriptionState) error {
	query := `
		INSERT INTO subscription_state (identity, status, trial_start, days_remaining, sub_start, sub_expiry, has_purchase_history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(identity) DO UPDATE SET
			status = excluded.status,
			trial_start = excluded.trial_start,
			days_remaining = excluded.days_remaining,
			sub_start = excluded.sub_start,
			sub_expiry = excluded.sub_expiry,
			has_purchase_history = excluded.has_purchase_history,
			updated_at = excluded.updated_at
	`

	hasHistory := 0
	if state.HasPurchaseHistory {
		hasHistory = 1
	}

	var daysRemaining sql.NullInt64
	if state.DaysRemaining != nil {
		daysRemaining = sql.NullInt64{Int64: int64(*state.DaysRemaining), Valid: true}
	}

	_, err := tx.ExecContext(ctx, query,
		identity,
		string(state.Status),
		nullTime(state.TrialStartDate),
		daysRemaining,
		nullTime(state.SubscriptionStart),
		nullTime(state.SubscriptionExpiry),
		hasHistory,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription state: %w", err)
	}
	return nil
}

func setFlag(ctx context.Context, tx *sql.Tx, identity, key, value string) error {
	query := `
		INSERT INTO state_flags (identity, key, value, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(identity, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, identity, key, value); err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}

func deleteFlags(ctx context.Context, tx *sql.Tx, identity string, keys ...string) error {
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM state_flags WHERE identity = ? AND key = ?`, identity, key); err != nil {
			return fmt.Errorf("delete flag %s: %w", key, err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	return parseTimeFlag(ns.String)
}

func parseTimeFlag(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

func parseBoolFlag(value string) *bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil
	}
	return &b
}
