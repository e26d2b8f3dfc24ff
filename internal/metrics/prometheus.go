// Package metrics provides Prometheus metrics for the verification API.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the verification server's Prometheus instruments.
type Metrics struct {
	VerificationCounter *prometheus.CounterVec
	TrialStartCounter   *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveTrialsGauge   prometheus.Gauge
}

// NewMetrics creates and registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		VerificationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawkeeper_verifications_total",
			Help: "Verification requests by resulting access status",
		}, []string{"status"}),
		TrialStartCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pawkeeper_trial_starts_total",
			Help: "Trial start attempts by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pawkeeper_request_duration_seconds",
			Help:    "Verification API request latency by endpoint",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"endpoint"}),
		ActiveTrialsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pawkeeper_active_trials",
			Help: "Number of currently active trials",
		}),
	}

	collectors := []prometheus.Collector{
		m.VerificationCounter,
		m.TrialStartCounter,
		m.RequestDuration,
		m.ActiveTrialsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// RecordVerification counts one verification by resulting status.
func (m *Metrics) RecordVerification(status string) {
	m.VerificationCounter.WithLabelValues(status).Inc()
}

// Trial start outcomes.
const (
	TrialOutcomeStarted  = "started"
	TrialOutcomeConflict = "conflict"
)

// RecordTrialStart counts one trial start attempt.
func (m *Metrics) RecordTrialStart(outcome string) {
	m.TrialStartCounter.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the latency of one API request.
func (m *Metrics) ObserveRequest(endpoint string, seconds float64) {
	m.RequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// SetActiveTrials updates the active-trial gauge, fed by the maintenance
// sweep.
func (m *Metrics) SetActiveTrials(n int) {
	m.ActiveTrialsGauge.Set(float64(n))
}
