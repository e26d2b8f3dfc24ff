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
	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// trialDuration is the server-enforced length of every trial window.
const trialDuration = 7 * 24 * time.Hour

// TrialStore defines the trial persistence operations the handlers need.
type TrialStore interface {
	CreateTrial(ctx context.Context, trial *models.Trial) error
	GetTrialByIdentity(ctx context.Context, identityID uuid.UUID) (*models.Trial, error)
	GetTrialByDevice(ctx context.Context, fingerprint string) (*models.Trial, error)
}

// DeviceTrialInfo describes a trial consumed on the requesting device,
// possibly under a different identity.
type DeviceTrialInfo struct {
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
}

// TrialStatusResponse is the server's view of an identity's trial history.
type TrialStatusResponse struct {
	HasUsedTrial   bool             `json:"has_used_trial"`
	TrialStartedAt *time.Time       `json:"trial_started_at,omitempty"`
	ServerTime     time.Time        `json:"server_time"`
	DeviceTrial    *DeviceTrialInfo `json:"device_trial,omitempty"`
}

// StartTrialRequest is the request body for starting a trial.
type StartTrialRequest struct {
	DeviceFingerprint string `json:"device_fingerprint" binding:"required"`
}

// StartTrialResponse echoes the created trial window.
type StartTrialResponse struct {
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TrialHandler handles trial status and start endpoints.
type TrialHandler struct {
	store   TrialStore
	cache   *cache.Cache
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewTrialHandler creates a new TrialHandler. The cache may be nil.
func NewTrialHandler(store TrialStore, trialCache *cache.Cache, m *metrics.Metrics, now func() time.Time, logger zerolog.Logger) *TrialHandler {
	if now == nil {
		now = time.Now
	}
	return &TrialHandler{
		store:   store,
		cache:   trialCache,
		metrics: m,
		now:     now,
		logger:  logger.With().Str("component", "trial_handler").Logger(),
	}
}

// RegisterRoutes registers trial routes on the given router group.
func (h *TrialHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trial/status", h.Status)
	r.POST("/trial/start", h.Start)
}

// Status returns the trial history for the authenticated identity. The
// optional device_fingerprint query parameter surfaces a trial consumed on
// this device under a different identity.
// GET /api/v1/trial/status
func (h *TrialHandler) Status(c *gin.Context) {
	identity, ok := middleware.RequireIdentity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	resp := TrialStatusResponse{ServerTime: h.now().UTC()}

	trial, err := lookupIdentityTrial(ctx, h.cache, h.store, identity.ID, h.logger)
	if err != nil {
		h.logger.Error().Err(err).Str("identity_id", identity.ID.String()).Msg("trial lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trial lookup failed"})
		return
	}
	if trial != nil {
		resp.HasUsedTrial = true
		resp.TrialStartedAt = &trial.StartedAt
	}

	if fingerprint := c.Query("device_fingerprint"); fingerprint != "" {
		deviceTrial, err := lookupDeviceTrial(ctx, h.cache, h.store, fingerprint, h.logger)
		if err != nil {
			h.logger.Error().Err(err).Msg("device trial lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "trial lookup failed"})
			return
		}
		if deviceTrial != nil && deviceTrial.IdentityID != identity.ID {
			resp.DeviceTrial = &DeviceTrialInfo{
				Fingerprint: deviceTrial.DeviceFingerprint,
				StartedAt:   deviceTrial.StartedAt,
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Start registers a trial for the authenticated identity. The database
// enforces one trial per identity and per device; the first writer wins and
// later attempts get 409.
// POST /api/v1/trial/start
func (h *TrialHandler) Start(c *gin.Context) {
	identity, ok := middleware.RequireIdentity(c)
	if !ok {
		return
	}

	var req StartTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_fingerprint is required"})
		return
	}

	trial := db.NewTrial(identity.ID, req.DeviceFingerprint, h.now().UTC(), trialDuration)
	if err := h.store.CreateTrial(c.Request.Context(), trial); err != nil {
		if errors.Is(err, db.ErrTrialExists) {
			h.metrics.RecordTrialStart(metrics.TrialOutcomeConflict)
			h.logger.Info().
				Str("identity_id", identity.ID.String()).
				Msg("trial start conflict")
			c.JSON(http.StatusConflict, gin.H{"error": "trial already used"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to create trial")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start trial"})
		return
	}

	h.metrics.RecordTrialStart(metrics.TrialOutcomeStarted)
	if err := h.cache.SetTrial(c.Request.Context(), trial); err != nil {
		h.logger.Warn().Err(err).Msg("trial cache write failed")
	}

	h.logger.Info().
		Str("identity_id", identity.ID.String()).
		Time("expires_at", trial.ExpiresAt).
		Msg("trial started")

	c.JSON(http.StatusOK, StartTrialResponse{
		StartedAt: trial.StartedAt,
		ExpiresAt: trial.ExpiresAt,
	})
}

// lookupIdentityTrial reads through the cache to the database. A missing
// trial is not an error; both return nil.
func lookupIdentityTrial(ctx context.Context, trialCache *cache.Cache, store TrialStore, identityID uuid.UUID, logger zerolog.Logger) (*models.Trial, error) {
	if trial, err := trialCache.GetTrial(ctx, identityID); err == nil {
		return trial, nil
	}

	trial, err := store.GetTrialByIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := trialCache.SetTrial(ctx, trial); err != nil {
		logger.Warn().Err(err).Msg("trial cache write failed")
	}
	return trial, nil
}

func lookupDeviceTrial(ctx context.Context, trialCache *cache.Cache, store TrialStore, fingerprint string, logger zerolog.Logger) (*models.Trial, error) {
	if trial, err := trialCache.GetDeviceTrial(ctx, fingerprint); err == nil {
		return trial, nil
	}

	trial, err := store.GetTrialByDevice(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := trialCache.SetTrial(ctx, trial); err != nil {
		logger.Warn().Err(err).Msg("trial cache write failed")
	}
	return trial, nil
}
