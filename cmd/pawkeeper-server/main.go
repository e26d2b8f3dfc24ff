// Package main is the entrypoint for the PawKeeper verification server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/api"
	"github.com/pawkeeperapp/pawkeeper/internal/cache"
	"github.com/pawkeeperapp/pawkeeper/internal/config"
	"github.com/pawkeeperapp/pawkeeper/internal/db"
	"github.com/pawkeeperapp/pawkeeper/internal/maintenance"
	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadServerConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("env", string(cfg.Environment)).
		Msg("starting pawkeeper verification server")

	if cfg.DatabaseURL == "" {
		logger.Error().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to run database migrations")
		return 1
	}

	// Redis is optional; without it every lookup goes to Postgres.
	var trialCache *cache.Cache
	if cfg.RedisURL != "" {
		trialCache, err = cache.New(ctx, cfg.RedisURL, time.Duration(cfg.TrialTTL)*time.Second, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return 1
		}
		defer trialCache.Close()
	} else {
		logger.Info().Msg("REDIS_URL not set, running without trial cache")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register metrics")
		return 1
	}

	routerCfg := api.Config{
		Environment: string(cfg.Environment),
		RateLimit:   cfg.RateLimit,
		Version:     Version,
		Commit:      Commit,
		BuildDate:   BuildDate,
	}
	router, err := api.NewRouter(routerCfg, database, trialCache, m, registry, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sweeper := maintenance.NewSweeper(database, trialCache, m, cfg.RetentionDays, logger)
	if err := sweeper.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start maintenance sweeper")
	}
	defer sweeper.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return 1
	}

	logger.Info().Msg("server stopped gracefully")
	return 0
}
