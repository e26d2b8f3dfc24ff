// Package maintenance runs the server's periodic cleanup jobs.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// SweepStore defines the data access the sweep needs.
type SweepStore interface {
	ExpireTrials(ctx context.Context) ([]*models.Trial, error)
	PruneDeviceStates(ctx context.Context, olderThan time.Time) (int, error)
	CountActiveTrials(ctx context.Context) (int, error)
}

// TrialCacheInvalidator evicts cached trial records that the sweep has just
// made stale.
type TrialCacheInvalidator interface {
	InvalidateTrial(ctx context.Context, identityID uuid.UUID, fingerprint string)
}

// Sweeper expires lapsed trials and prunes stale device state reports on a
// daily schedule.
type Sweeper struct {
	store         SweepStore
	trialCache    TrialCacheInvalidator
	metrics       *metrics.Metrics
	retentionDays int
	cron          *cron.Cron
	logger        zerolog.Logger
	mu            sync.Mutex
	running       bool
}

// NewSweeper creates a new maintenance sweeper. Device state reports older
// than retentionDays are deleted. The cache may be nil.
func NewSweeper(store SweepStore, trialCache TrialCacheInvalidator, m *metrics.Metrics, retentionDays int, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:         store,
		trialCache:    trialCache,
		metrics:       m,
		retentionDays: retentionDays,
		cron:          cron.New(),
		logger:        logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start begins the daily sweep schedule at 3:00 AM UTC.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper already running")
	}

	_, err := s.cron.AddFunc("0 3 * * *", s.runSweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("retention_days", s.retentionDays).
		Msg("maintenance sweeper started (daily at 03:00 UTC)")

	return nil
}

// Stop stops the sweeper gracefully.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping maintenance sweeper")
	return s.cron.Stop()
}

// runSweep executes one cleanup pass. Expired trials are evicted from the
// cache so lookups inside the TTL window see the new status.
func (s *Sweeper) runSweep() {
	ctx := context.Background()

	expired, err := s.store.ExpireTrials(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("trial expiry sweep failed")
	}
	if s.trialCache != nil {
		for _, t := range expired {
			s.trialCache.InvalidateTrial(ctx, t.IdentityID, t.DeviceFingerprint)
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	pruned, err := s.store.PruneDeviceStates(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("device state prune failed")
	}

	active, err := s.store.CountActiveTrials(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("active trial count failed")
	} else {
		s.metrics.SetActiveTrials(active)
	}

	s.logger.Info().
		Int("expired_trials", len(expired)).
		Int("pruned_states", pruned).
		Int("active_trials", active).
		Msg("maintenance sweep completed")
}

// RunNow triggers an immediate sweep (useful for testing).
func (s *Sweeper) RunNow() {
	s.runSweep()
}
