package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TimeResponse carries the server clock. Clients treat it as the only
// trustworthy time source for entitlement math.
type TimeResponse struct {
	ServerTime time.Time `json:"server_time"`
}

// TimeHandler serves the authoritative server clock.
type TimeHandler struct {
	now    func() time.Time
	logger zerolog.Logger
}

// NewTimeHandler creates a new TimeHandler.
func NewTimeHandler(now func() time.Time, logger zerolog.Logger) *TimeHandler {
	if now == nil {
		now = time.Now
	}
	return &TimeHandler{
		now:    now,
		logger: logger.With().Str("component", "time_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the time route. It requires no
// authentication so devices can calibrate before login.
func (h *TimeHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/api/v1/time", h.Get)
}

// Get returns the current server time.
// GET /api/v1/time
func (h *TimeHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, TimeResponse{ServerTime: h.now().UTC()})
}
