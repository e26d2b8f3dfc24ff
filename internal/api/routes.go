// Package api provides the HTTP API for the PawKeeper verification server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/api/handlers"
	"github.com/pawkeeperapp/pawkeeper/internal/api/middleware"
	"github.com/pawkeeperapp/pawkeeper/internal/auth"
	"github.com/pawkeeperapp/pawkeeper/internal/cache"
	"github.com/pawkeeperapp/pawkeeper/internal/db"
	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment selects gin's mode; "production" disables debug output.
	Environment string
	// RateLimit is a limiter rate string such as "60-M".
	RateLimit string
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment: "development",
		RateLimit:   "60-M",
		Version:     "dev",
		Commit:      "unknown",
		BuildDate:   "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies. The cache may
// be nil to run without Redis.
func NewRouter(
	cfg Config,
	database *db.DB,
	trialCache *cache.Cache,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger zerolog.Logger,
) (*Router, error) {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.RequestMetrics(m))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Public endpoints
	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	metricsHandler := handlers.NewMetricsHandler(gatherer, logger)
	metricsHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	timeHandler := handlers.NewTimeHandler(nil, logger)
	timeHandler.RegisterPublicRoutes(r.Engine)

	// Registration (no auth required)
	authGroup := r.Engine.Group("/auth")
	registerHandler := handlers.NewRegisterHandler(database, logger)
	registerHandler.RegisterRoutes(authGroup)

	// API v1 routes (credential required)
	validator := auth.NewCredentialValidator(database, logger)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.CredentialMiddleware(validator, logger))

	trialHandler := handlers.NewTrialHandler(database, trialCache, m, nil, logger)
	trialHandler.RegisterRoutes(apiV1)

	verifyHandler := handlers.NewVerifyHandler(database, database, trialCache, m, nil, logger)
	verifyHandler.RegisterRoutes(apiV1)

	stateHandler := handlers.NewStateHandler(database, trialCache, nil, logger)
	stateHandler.RegisterRoutes(apiV1)

	return r, nil
}
