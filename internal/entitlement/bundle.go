package entitlement

import "time"

// Source identifies where the entitlement signals in a bundle came from.
type Source string

const (
	// SourceServer means the bundle was corroborated by the verification API.
	SourceServer Source = "server"
	// SourceCache means the bundle was assembled from locally cached data only.
	SourceCache Source = "cache"
)

// VerificationBundle is the ephemeral input to one determination. It is
// assembled per reconciliation attempt from the verification API response,
// the device purchase ledger, and the local flag snapshot, then discarded.
//
// DaysRemaining is a display-only estimate and must never feed a blocking
// decision; only ExpiresDate compared against ServerTime may gate access.
type VerificationBundle struct {
	Success             bool       `json:"success"`
	ServerSyncSucceeded bool       `json:"server_sync_succeeded"`
	EntitlementActive   bool       `json:"entitlement_active"`
	ExpiresDate         *time.Time `json:"expires_date,omitempty"`
	ProductID           string     `json:"product_id,omitempty"`
	IsPending           bool       `json:"is_pending"`
	Source              Source     `json:"source"`
	ServerTime          time.Time  `json:"server_time"`
	HasUsedTrial        bool       `json:"has_used_trial"`
	TrialActive         bool       `json:"trial_active"`
	HasPurchaseHistory  bool       `json:"has_purchase_history"`
	RestoreAttempted    *bool      `json:"restore_attempted,omitempty"`
	RestoreSucceeded    *bool      `json:"restore_succeeded,omitempty"`
	DaysRemaining       *int       `json:"days_remaining,omitempty"`
	DeviceTrialBlock    bool       `json:"device_trial_block"`
}

// FailedBundle returns a bundle representing a reconciliation attempt that
// could not reach or trust the server. It always determines to loading.
func FailedBundle(serverTime time.Time) VerificationBundle {
	return VerificationBundle{
		Success:    false,
		Source:     SourceCache,
		ServerTime: serverTime,
	}
}
