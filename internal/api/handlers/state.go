package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/api/middleware"
	"github.com/pawkeeperapp/pawkeeper/internal/cache"
	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// StateSyncStore defines the persistence operations for device state reports
// and the purchases they carry.
type StateSyncStore interface {
	UpsertDeviceState(ctx context.Context, state *models.DeviceState) error
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	ConvertTrial(ctx context.Context, identityID uuid.UUID) error
}

// SyncStateRequest is a device's last-determined subscription state.
type SyncStateRequest struct {
	DeviceFingerprint string     `json:"device_fingerprint" binding:"required"`
	Status            string     `json:"status" binding:"required"`
	TrialStartDate    *time.Time `json:"trial_start_date,omitempty"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	ProductID         string     `json:"product_id,omitempty"`
	PurchaseToken     string     `json:"purchase_token,omitempty"`
}

// StateHandler records client-reported state. A subscribed report carrying a
// purchase token is also ingested into the subscriptions table, which is what
// lets the next verification corroborate the client's optimistic grant.
type StateHandler struct {
	store      StateSyncStore
	trialCache *cache.Cache
	now        func() time.Time
	logger     zerolog.Logger
}

// NewStateHandler creates a new StateHandler. The cache may be nil.
func NewStateHandler(store StateSyncStore, trialCache *cache.Cache, now func() time.Time, logger zerolog.Logger) *StateHandler {
	if now == nil {
		now = time.Now
	}
	return &StateHandler{
		store:      store,
		trialCache: trialCache,
		now:        now,
		logger:     logger.With().Str("component", "state_handler").Logger(),
	}
}

// RegisterRoutes registers state sync routes on the given router group.
func (h *StateHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/state/sync", h.Sync)
}

// Sync stores the reported device state, overwriting any earlier report from
// the same device, and ingests any purchase the report carries.
// POST /api/v1/state/sync
func (h *StateHandler) Sync(c *gin.Context) {
	identity, ok := middleware.RequireIdentity(c)
	if !ok {
		return
	}

	var req SyncStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_fingerprint and status are required"})
		return
	}
	status, err := entitlement.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	state := &models.DeviceState{
		ID:                uuid.New(),
		IdentityID:        identity.ID,
		DeviceFingerprint: req.DeviceFingerprint,
		Status:            req.Status,
		TrialStartDate:    req.TrialStartDate,
		SubscriptionStart: req.SubscriptionStart,
		SubscriptionEnd:   req.SubscriptionEnd,
		ProductID:         req.ProductID,
		ReportedAt:        h.now().UTC(),
	}

	if err := h.store.UpsertDeviceState(c.Request.Context(), state); err != nil {
		h.logger.Error().Err(err).Msg("failed to store device state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store state"})
		return
	}

	if status == entitlement.StatusSubscribed {
		if err := h.ingestPurchase(c.Request.Context(), identity.ID, &req); err != nil {
			h.logger.Error().Err(err).Msg("failed to ingest reported purchase")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store state"})
			return
		}
	}

	h.logger.Debug().
		Str("identity_id", identity.ID.String()).
		Str("status", req.Status).
		Msg("device state recorded")

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ingestPurchase records the purchase behind a subscribed report. Reports
// without a token, expiry, or recognized product carry nothing verifiable and
// are stored as device state only.
func (h *StateHandler) ingestPurchase(ctx context.Context, identityID uuid.UUID, req *SyncStateRequest) error {
	if req.PurchaseToken == "" || req.SubscriptionEnd == nil || !entitlement.RecognizedProduct(req.ProductID) {
		return nil
	}

	startedAt := h.now().UTC()
	if req.SubscriptionStart != nil {
		startedAt = *req.SubscriptionStart
	}

	sub := &models.Subscription{
		ID:            uuid.New(),
		IdentityID:    identityID,
		ProductID:     req.ProductID,
		PurchaseToken: req.PurchaseToken,
		Status:        models.SubscriptionActive,
		StartedAt:     startedAt,
		ExpiresAt:     *req.SubscriptionEnd,
	}
	if err := h.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}

	// A purchase ends any running trial; the cached trial record is stale
	// the moment the conversion lands.
	if err := h.store.ConvertTrial(ctx, identityID); err != nil {
		return err
	}
	h.trialCache.InvalidateTrial(ctx, identityID, req.DeviceFingerprint)

	h.logger.Info().
		Str("identity_id", identityID.String()).
		Str("product_id", req.ProductID).
		Msg("reported purchase ingested")

	return nil
}
