package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/auth"
	"github.com/pawkeeperapp/pawkeeper/internal/db"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// RegistrationStore defines the interface for creating identities.
type RegistrationStore interface {
	CreateIdentity(ctx context.Context, identity *models.Identity) error
}

// RegisterRequest is the request body for identity registration.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
}

// RegisterResponse carries the issued credential. The raw credential is
// returned exactly once; only its hash is stored.
type RegisterResponse struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Credential string    `json:"credential"`
}

// RegisterHandler issues credentials for new identities.
type RegisterHandler struct {
	store  RegistrationStore
	logger zerolog.Logger
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(store RegistrationStore, logger zerolog.Logger) *RegisterHandler {
	return &RegisterHandler{
		store:  store,
		logger: logger.With().Str("component", "register_handler").Logger(),
	}
}

// RegisterRoutes registers registration routes on the given router group.
func (h *RegisterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.Register)
}

// Register creates a new identity and returns its credential.
// POST /auth/register
func (h *RegisterHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	credential, err := auth.GenerateCredential()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to generate credential")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create identity"})
		return
	}

	identity := &models.Identity{
		ID:             uuid.New(),
		Email:          req.Email,
		CredentialHash: auth.HashCredential(credential),
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.store.CreateIdentity(c.Request.Context(), identity); err != nil {
		if errors.Is(err, db.ErrIdentityExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to create identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create identity"})
		return
	}

	h.logger.Info().
		Str("identity_id", identity.ID.String()).
		Msg("identity registered")

	c.JSON(http.StatusCreated, RegisterResponse{
		IdentityID: identity.ID,
		Credential: credential,
	})
}
