package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceState is the last state a client device reported through the sync
// endpoint. It is diagnostic data, not an input to verification.
type DeviceState struct {
	ID                uuid.UUID  `json:"id"`
	IdentityID        uuid.UUID  `json:"identity_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	Status            string     `json:"status"`
	TrialStartDate    *time.Time `json:"trial_start_date,omitempty"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	ProductID         string     `json:"product_id,omitempty"`
	ReportedAt        time.Time  `json:"reported_at"`
}
