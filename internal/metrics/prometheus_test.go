package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_VerificationCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	t.Run("increments per status", func(t *testing.T) {
		m.RecordVerification("subscribed")
		m.RecordVerification("subscribed")
		m.RecordVerification("trial")

		if val := getCounterValue(t, m.VerificationCounter, "subscribed"); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
		if val := getCounterValue(t, m.VerificationCounter, "trial"); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
	})

	t.Run("statuses count independently", func(t *testing.T) {
		m.RecordVerification("blocked")

		if val := getCounterValue(t, m.VerificationCounter, "blocked"); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
		if val := getCounterValue(t, m.VerificationCounter, "subscribed"); val != 2 {
			t.Errorf("subscribed counter disturbed: got %f", val)
		}
	})
}

func TestMetrics_TrialStartCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordTrialStart(TrialOutcomeStarted)
	m.RecordTrialStart(TrialOutcomeConflict)
	m.RecordTrialStart(TrialOutcomeConflict)

	if val := getCounterValue(t, m.TrialStartCounter, TrialOutcomeStarted); val != 1 {
		t.Errorf("started = %f, want 1", val)
	}
	if val := getCounterValue(t, m.TrialStartCounter, TrialOutcomeConflict); val != 2 {
		t.Errorf("conflict = %f, want 2", val)
	}
}

func TestMetrics_RequestDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.ObserveRequest("verify", 0.1)
	m.ObserveRequest("verify", 0.3)

	count, sum := getHistogramValues(t, m.RequestDuration, "verify")
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
	if sum < 0.39 || sum > 0.41 {
		t.Errorf("expected sum ~0.4, got %f", sum)
	}
}

func TestMetrics_Registration(t *testing.T) {
	t.Run("creates metrics successfully", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := NewMetrics(reg)
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		if m.VerificationCounter == nil || m.TrialStartCounter == nil ||
			m.RequestDuration == nil || m.ActiveTrialsGauge == nil {
			t.Error("expected all instruments to be initialized")
		}
	})

	t.Run("fails on duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if _, err := NewMetrics(reg); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if _, err := NewMetrics(reg); err == nil {
			t.Fatal("expected error on duplicate registration")
		}
	})
}

// Helper functions for extracting Prometheus metric values.

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getHistogramValues(t *testing.T, hist *prometheus.HistogramVec, label string) (uint64, float64) {
	t.Helper()
	observer := hist.WithLabelValues(label)
	var m dto.Metric
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}
