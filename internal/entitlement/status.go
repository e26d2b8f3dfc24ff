// Package entitlement determines whether an identity may use PawKeeper
// premium features, given the signals gathered during a reconciliation
// cycle. The decision logic is a pure ordered rule list over a
// VerificationBundle; everything stateful lives in the callers.
package entitlement

import (
	"fmt"
	"time"
)

// Status is the access decision shown to the rest of the app.
type Status string

const (
	// StatusLoading means the signals are incomplete or untrusted and a
	// re-check is needed. It never grants access and is never a final
	// persisted answer beyond the current session.
	StatusLoading Status = "loading"
	// StatusTrial means the identity is inside an active trial window.
	StatusTrial Status = "trial"
	// StatusSubscribed means a server-corroborated paid entitlement is active.
	StatusSubscribed Status = "subscribed"
	// StatusBlocked means access is denied until the user subscribes or restores.
	StatusBlocked Status = "blocked"
)

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusLoading, StatusTrial, StatusSubscribed, StatusBlocked:
		return true
	}
	return false
}

// ParseStatus converts a persisted string back into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
	return s, nil
}

// SubscriptionState is the persisted, UI-facing subscription record.
// Exactly one exists per logged-in identity; it is overwritten on every
// reconciliation (latest wins), never appended.
type SubscriptionState struct {
	Status             Status     `json:"status"`
	TrialStartDate     *time.Time `json:"trial_start_date,omitempty"`
	DaysRemaining      *int       `json:"days_remaining,omitempty"`
	SubscriptionStart  *time.Time `json:"subscription_start,omitempty"`
	SubscriptionExpiry *time.Time `json:"subscription_expiry,omitempty"`
	HasPurchaseHistory bool       `json:"has_purchase_history"`
}

// Allowed reports whether the state grants access to premium features.
func (s *SubscriptionState) Allowed() bool {
	if s == nil {
		return false
	}
	return s.Status == StatusTrial || s.Status == StatusSubscribed
}
