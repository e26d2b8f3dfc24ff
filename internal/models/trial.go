package models

import (
	"time"

	"github.com/google/uuid"
)

// TrialStatus represents the lifecycle state of a trial record.
type TrialStatus string

const (
	// TrialActive means the trial window is still open.
	TrialActive TrialStatus = "active"
	// TrialExpired means the window has closed.
	TrialExpired TrialStatus = "expired"
	// TrialConverted means the identity purchased before the window closed.
	TrialConverted TrialStatus = "converted"
)

// Trial is the authoritative record of a consumed trial. Uniqueness is
// enforced per identity and per device fingerprint, so the first writer wins
// and everyone else adopts.
type Trial struct {
	ID                uuid.UUID   `json:"id"`
	IdentityID        uuid.UUID   `json:"identity_id"`
	DeviceFingerprint string      `json:"device_fingerprint"`
	Status            TrialStatus `json:"status"`
	StartedAt         time.Time   `json:"started_at"`
	ExpiresAt         time.Time   `json:"expires_at"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
