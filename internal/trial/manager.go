// Package trial owns the trial lifecycle: bootstrapping a trial against the
// server record, computing the remaining window, and scheduling the expiry
// reminder.
package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/verify"
)

// TrialDuration is the length of the free trial window.
const TrialDuration = 7 * 24 * time.Hour

// StatusClient is the slice of the verification API the trial manager needs.
type StatusClient interface {
	TrialStatus(ctx context.Context, deviceFingerprint string) (*verify.TrialStatusResponse, error)
	StartTrial(ctx context.Context, deviceFingerprint string) error
}

// Outcome is the result of a trial bootstrap, expressed in the fields the
// reconciliation bundle needs. All times are server-clock based.
type Outcome struct {
	TrialStart    *time.Time
	TrialActive   bool
	HasUsedTrial  bool
	DeviceBlocked bool
	DaysRemaining int
	ServerTime    time.Time
}

// Manager drives trial bootstrap and window computation.
type Manager struct {
	client StatusClient
	logger zerolog.Logger
}

// NewManager creates a trial manager.
func NewManager(client StatusClient, logger zerolog.Logger) *Manager {
	return &Manager{
		client: client,
		logger: logger.With().Str("component", "trial").Logger(),
	}
}

// Bootstrap reconciles the trial record with the server. The server is the
// authority on whether a trial was ever consumed; the local record only ever
// adopts what the server reports.
//
// A 409 from trial start is a success path, not an error: it means another
// device or an earlier session won the race, and the existing trial is
// adopted on re-fetch.
func (m *Manager) Bootstrap(ctx context.Context, deviceFingerprint string) (*Outcome, error) {
	status, err := m.client.TrialStatus(ctx, deviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("fetch trial status: %w", err)
	}

	if out := m.adopt(status, deviceFingerprint); out != nil {
		return out, nil
	}

	// Clean slate: claim a trial. First writer wins server-side.
	if err := m.client.StartTrial(ctx, deviceFingerprint); err != nil {
		if !errors.Is(err, verify.ErrTrialAlreadyUsed) {
			return nil, fmt.Errorf("start trial: %w", err)
		}
		m.logger.Info().Msg("trial start conflicted, adopting existing trial")
	}

	// Re-fetch so the adopted start date is the server's record, not a
	// locally invented timestamp.
	status, err = m.client.TrialStatus(ctx, deviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("refetch trial status: %w", err)
	}
	if out := m.adopt(status, deviceFingerprint); out != nil {
		return out, nil
	}

	return nil, fmt.Errorf("trial start not visible after registration")
}

// adopt converts a server trial record into an outcome, or returns nil when
// the server reports a clean slate.
func (m *Manager) adopt(status *verify.TrialStatusResponse, deviceFingerprint string) *Outcome {
	if status.TrialStartedAt != nil {
		out := window(*status.TrialStartedAt, status.ServerTime)
		out.HasUsedTrial = true
		m.logger.Debug().
			Time("trial_start", *status.TrialStartedAt).
			Bool("active", out.TrialActive).
			Int("days_remaining", out.DaysRemaining).
			Msg("adopted identity trial")
		return out
	}

	if status.DeviceTrial != nil {
		// This device already burned a trial under another identity.
		m.logger.Warn().
			Str("fingerprint", deviceFingerprint).
			Time("device_trial_start", status.DeviceTrial.StartedAt).
			Msg("device trial reuse detected")
		return &Outcome{
			HasUsedTrial:  true,
			DeviceBlocked: true,
			ServerTime:    status.ServerTime,
		}
	}

	return nil
}

// window computes the trial window state for a start date at a given server
// time. DaysRemaining is a display estimate; access decisions compare raw
// timestamps.
func window(start, serverTime time.Time) *Outcome {
	expiry := start.Add(TrialDuration)
	out := &Outcome{
		TrialStart:  &start,
		TrialActive: expiry.After(serverTime),
		ServerTime:  serverTime,
	}
	if out.TrialActive {
		remaining := expiry.Sub(serverTime)
		days := int(remaining / (24 * time.Hour))
		if remaining%(24*time.Hour) > 0 {
			days++
		}
		out.DaysRemaining = days
	}
	return out
}

// Expiry returns the end of the trial window for a start date.
func Expiry(start time.Time) time.Time {
	return start.Add(TrialDuration)
}
