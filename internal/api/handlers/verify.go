package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/api/middleware"
	"github.com/pawkeeperapp/pawkeeper/internal/cache"
	"github.com/pawkeeperapp/pawkeeper/internal/db"
	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// SubscriptionStore defines the subscription lookups verification needs.
type SubscriptionStore interface {
	ActiveSubscription(ctx context.Context, identityID uuid.UUID) (*models.Subscription, error)
	HasPurchaseHistory(ctx context.Context, identityID uuid.UUID) (bool, error)
	HasPendingSubscription(ctx context.Context, identityID uuid.UUID) (bool, error)
}

// VerifyRequest is the request body for entitlement verification.
type VerifyRequest struct {
	DeviceFingerprint string `json:"device_fingerprint" binding:"required"`
}

// VerifyHandler assembles the server-side entitlement picture for a device.
type VerifyHandler struct {
	subs    SubscriptionStore
	trials  TrialStore
	cache   *cache.Cache
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewVerifyHandler creates a new VerifyHandler. The cache may be nil.
func NewVerifyHandler(subs SubscriptionStore, trials TrialStore, trialCache *cache.Cache, m *metrics.Metrics, now func() time.Time, logger zerolog.Logger) *VerifyHandler {
	if now == nil {
		now = time.Now
	}
	return &VerifyHandler{
		subs:    subs,
		trials:  trials,
		cache:   trialCache,
		metrics: m,
		now:     now,
		logger:  logger.With().Str("component", "verify_handler").Logger(),
	}
}

// RegisterRoutes registers verification routes on the given router group.
func (h *VerifyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verify", h.Verify)
}

// Verify returns the authoritative entitlement signals for the identity and
// device. The client merges in its purchase ledger and local flags before
// deciding anything; this endpoint only reports what the server knows.
// POST /api/v1/verify
func (h *VerifyHandler) Verify(c *gin.Context) {
	identity, ok := middleware.RequireIdentity(c)
	if !ok {
		return
	}

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_fingerprint is required"})
		return
	}

	ctx := c.Request.Context()
	now := h.now().UTC()

	bundle := entitlement.VerificationBundle{
		Success:             true,
		ServerSyncSucceeded: true,
		Source:              entitlement.SourceServer,
		ServerTime:          now,
	}

	sub, err := h.subs.ActiveSubscription(ctx, identity.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.fail(c, err, "subscription lookup failed")
		return
	}
	if sub != nil {
		bundle.EntitlementActive = true
		bundle.ExpiresDate = &sub.ExpiresAt
		bundle.ProductID = sub.ProductID
	}

	if bundle.HasPurchaseHistory, err = h.subs.HasPurchaseHistory(ctx, identity.ID); err != nil {
		h.fail(c, err, "purchase history lookup failed")
		return
	}
	if bundle.IsPending, err = h.subs.HasPendingSubscription(ctx, identity.ID); err != nil {
		h.fail(c, err, "pending subscription lookup failed")
		return
	}

	trial, err := lookupIdentityTrial(ctx, h.cache, h.trials, identity.ID, h.logger)
	if err != nil {
		h.fail(c, err, "trial lookup failed")
		return
	}
	if trial != nil {
		bundle.HasUsedTrial = true
		if trial.Status == models.TrialActive && trial.ExpiresAt.After(now) {
			bundle.TrialActive = true
			days := daysRemaining(trial.ExpiresAt, now)
			bundle.DaysRemaining = &days
		}
	}

	deviceTrial, err := lookupDeviceTrial(ctx, h.cache, h.trials, req.DeviceFingerprint, h.logger)
	if err != nil {
		h.fail(c, err, "device trial lookup failed")
		return
	}
	if deviceTrial != nil && deviceTrial.IdentityID != identity.ID {
		bundle.DeviceTrialBlock = true
	}

	h.metrics.RecordVerification(verificationLabel(bundle))
	c.JSON(http.StatusOK, bundle)
}

func (h *VerifyHandler) fail(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
}

// verificationLabel picks the coarse outcome label for metrics.
func verificationLabel(b entitlement.VerificationBundle) string {
	switch {
	case b.EntitlementActive:
		return "subscribed"
	case b.TrialActive:
		return "trial"
	case b.DeviceTrialBlock:
		return "blocked"
	default:
		return "none"
	}
}

// daysRemaining rounds the remaining window up to whole days for display.
func daysRemaining(expiry, now time.Time) int {
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}
