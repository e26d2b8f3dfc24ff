package trial

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/statestore"
)

// ReminderLead is how far before trial expiry the reminder fires.
const ReminderLead = 24 * time.Hour

// ReminderSink delivers scheduled reminders. The app shell wires this to the
// platform notification service; tests use a recording fake.
type ReminderSink interface {
	Schedule(ctx context.Context, identity string, at time.Time) error
	Cancel(ctx context.Context, identity string) error
}

// Reminders keeps at most one pending expiry reminder per identity, aligned
// with the current subscription status after each reconciliation run. The
// scheduled time is persisted so a relaunch can re-arm it.
type Reminders struct {
	sink   ReminderSink
	store  statestore.Store
	logger zerolog.Logger
}

// NewReminders creates a reminder scheduler.
func NewReminders(sink ReminderSink, store statestore.Store, logger zerolog.Logger) *Reminders {
	return &Reminders{
		sink:   sink,
		store:  store,
		logger: logger.With().Str("component", "reminders").Logger(),
	}
}

// Sync aligns the pending reminder with the freshly determined status. On an
// active trial it schedules the reminder at expiry minus the lead, replacing
// a stale one; on any other status it cancels.
func (r *Reminders) Sync(ctx context.Context, identity string, status entitlement.Status, trialStart *time.Time, serverTime time.Time) error {
	snap, err := r.store.Snapshot(ctx, identity)
	if err != nil {
		return fmt.Errorf("read reminder state: %w", err)
	}

	if status != entitlement.StatusTrial || trialStart == nil {
		if snap.ReminderAt == nil {
			return nil
		}
		if err := r.sink.Cancel(ctx, identity); err != nil {
			return fmt.Errorf("cancel reminder: %w", err)
		}
		if err := r.store.ApplyChanges(ctx, identity, &statestore.Apply{ClearReminder: true}); err != nil {
			return fmt.Errorf("clear reminder record: %w", err)
		}
		r.logger.Debug().Str("status", string(status)).Msg("expiry reminder cancelled")
		return nil
	}

	remindAt := Expiry(*trialStart).Add(-ReminderLead)
	if !remindAt.After(serverTime) {
		// Inside the final day; a reminder now would be noise.
		if snap.ReminderAt != nil {
			if err := r.sink.Cancel(ctx, identity); err != nil {
				return fmt.Errorf("cancel reminder: %w", err)
			}
			if err := r.store.ApplyChanges(ctx, identity, &statestore.Apply{ClearReminder: true}); err != nil {
				return fmt.Errorf("clear reminder record: %w", err)
			}
		}
		return nil
	}

	if snap.ReminderAt != nil && snap.ReminderAt.Equal(remindAt) {
		return nil
	}

	if err := r.sink.Schedule(ctx, identity, remindAt); err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	if err := r.store.ApplyChanges(ctx, identity, &statestore.Apply{ReminderAt: &remindAt}); err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}

	r.logger.Info().Time("remind_at", remindAt).Msg("expiry reminder scheduled")
	return nil
}
