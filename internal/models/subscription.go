package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the lifecycle state of a store subscription
// as reported by the billing backend.
type SubscriptionStatus string

const (
	// SubscriptionActive means the subscription is paid up.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionExpired means the paid period has ended.
	SubscriptionExpired SubscriptionStatus = "expired"
	// SubscriptionRevoked means the purchase was refunded or revoked.
	SubscriptionRevoked SubscriptionStatus = "revoked"
)

// Subscription is the server's record of a store subscription for an
// identity. One row per purchase token; the latest expiry wins when an
// identity holds several.
type Subscription struct {
	ID            uuid.UUID          `json:"id"`
	IdentityID    uuid.UUID          `json:"identity_id"`
	ProductID     string             `json:"product_id"`
	PurchaseToken string             `json:"purchase_token"`
	Status        SubscriptionStatus `json:"status"`
	IsPending     bool               `json:"is_pending"`
	StartedAt     time.Time          `json:"started_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
