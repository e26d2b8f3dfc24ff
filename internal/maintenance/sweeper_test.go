package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/metrics"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

type mockSweepStore struct {
	mu           sync.Mutex
	expired      []*models.Trial
	pruned       int
	active       int
	expireErr    error
	prunedCutoff time.Time
	sweeps       int
}

func (m *mockSweepStore) ExpireTrials(_ context.Context) ([]*models.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	if m.expireErr != nil {
		return nil, m.expireErr
	}
	return m.expired, nil
}

func (m *mockSweepStore) PruneDeviceStates(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedCutoff = olderThan
	return m.pruned, nil
}

func (m *mockSweepStore) CountActiveTrials(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

func (m *mockSweepStore) getSweeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweeps
}

type mockInvalidator struct {
	mu      sync.Mutex
	evicted []string
}

func (m *mockInvalidator) InvalidateTrial(_ context.Context, identityID uuid.UUID, fingerprint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, identityID.String()+"/"+fingerprint)
}

func expiredTrials(n int) []*models.Trial {
	trials := make([]*models.Trial, n)
	for i := range trials {
		trials[i] = &models.Trial{
			ID:                uuid.New(),
			IdentityID:        uuid.New(),
			DeviceFingerprint: uuid.NewString(),
			Status:            models.TrialExpired,
		}
	}
	return trials
}

func newSweeperMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewSweeper(t *testing.T) {
	s := NewSweeper(&mockSweepStore{}, nil, newSweeperMetrics(t), 90, zerolog.Nop())

	if s == nil {
		t.Fatal("expected non-nil sweeper")
	}
	if s.retentionDays != 90 {
		t.Errorf("expected retentionDays=90, got %d", s.retentionDays)
	}
	if s.running {
		t.Error("expected sweeper to not be running initially")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(&mockSweepStore{}, nil, newSweeperMetrics(t), 90, zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("expected error on double start")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not complete in time")
	}

	// Stop when not running returns a completed context.
	ctx = s.Stop()
	select {
	case <-ctx.Done():
	default:
		t.Error("expected completed context from idle Stop()")
	}
}

func TestSweeper_RunNow(t *testing.T) {
	store := &mockSweepStore{expired: expiredTrials(3), pruned: 5, active: 12}
	m := newSweeperMetrics(t)
	s := NewSweeper(store, nil, m, 30, zerolog.Nop())

	s.RunNow()

	if got := store.getSweeps(); got != 1 {
		t.Errorf("expected 1 sweep, got %d", got)
	}
	if got := gaugeValue(t, m.ActiveTrialsGauge); got != 12 {
		t.Errorf("active trials gauge = %f, want 12", got)
	}

	store.mu.Lock()
	cutoff := store.prunedCutoff
	store.mu.Unlock()
	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	if diff := wantCutoff.Sub(cutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("prune cutoff = %v, want ~%v", cutoff, wantCutoff)
	}
}

func TestSweeper_EvictsExpiredTrialsFromCache(t *testing.T) {
	trials := expiredTrials(2)
	store := &mockSweepStore{expired: trials}
	inv := &mockInvalidator{}
	s := NewSweeper(store, inv, newSweeperMetrics(t), 30, zerolog.Nop())

	s.RunNow()

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.evicted) != 2 {
		t.Fatalf("evicted %d cache entries, want 2", len(inv.evicted))
	}
	for i, tr := range trials {
		want := tr.IdentityID.String() + "/" + tr.DeviceFingerprint
		if inv.evicted[i] != want {
			t.Errorf("evicted[%d] = %q, want %q", i, inv.evicted[i], want)
		}
	}
}

func TestSweeper_ExpireFailureDoesNotAbortSweep(t *testing.T) {
	store := &mockSweepStore{expireErr: errors.New("db down"), active: 4}
	m := newSweeperMetrics(t)
	s := NewSweeper(store, nil, m, 30, zerolog.Nop())

	s.RunNow()

	// The prune and gauge update still run.
	if got := gaugeValue(t, m.ActiveTrialsGauge); got != 4 {
		t.Errorf("active trials gauge = %f, want 4", got)
	}
}
