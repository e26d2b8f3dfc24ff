// Package statestore persists the client-side subscription state and the
// transient reconciliation flags between app launches.
package statestore

import (
	"context"
	"time"

	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
)

// Snapshot is the full local picture for one identity, read atomically at
// the start of a reconciliation run. Pointer fields are nil when the flag
// was never written.
type Snapshot struct {
	State               *entitlement.SubscriptionState
	TrialStartDate      *time.Time
	RestoreAttempted    *bool
	RestoreSucceeded    *bool
	CachedDaysRemaining *int
	ReminderAt          *time.Time
}

// Apply describes the conclusions of one reconciliation run. Everything in
// one Apply is written in a single transaction so that a run's writes are
// all-or-nothing. Nil pointer fields leave the stored value untouched.
type Apply struct {
	State *entitlement.SubscriptionState

	RestoreAttempted    *bool
	RestoreSucceeded    *bool
	ClearRestoreFlags   bool
	TrialStartDate      *time.Time
	CachedDaysRemaining *int
	ReminderAt          *time.Time
	ClearReminder       bool
}

// Store is the local persistence contract used by the orchestrator and the
// trial manager.
type Store interface {
	// Snapshot reads the complete local state for an identity in one
	// transaction. A missing identity yields a Snapshot with nil fields,
	// not an error.
	Snapshot(ctx context.Context, identity string) (*Snapshot, error)
	// ApplyChanges writes the conclusions of a run atomically.
	ApplyChanges(ctx context.Context, identity string, apply *Apply) error
	// ClearIdentity removes all local state for an identity on logout. The
	// server-side device trial marker is unaffected.
	ClearIdentity(ctx context.Context, identity string) error
	// Close releases the underlying database.
	Close() error
}
