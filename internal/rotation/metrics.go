package rotation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	reencryptedVariables   *prometheus.CounterVec

	healthCheckStatus *prometheus.GaugeVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics records rotation and health-check metrics. Metrics are inert
// until InitMetrics is called, so library users who don't scrape pay
// nothing.
type Metrics struct{}

// NewMetrics creates a Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all Prometheus metrics. Call once at startup when
// metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_rotation_started_total",
				Help: "Total number of key rotation attempts started",
			},
			[]string{"key", "reason"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_rotation_completed_total",
				Help: "Total number of key rotation attempts completed",
			},
			[]string{"key", "reason", "status"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyward_rotation_duration_seconds",
				Help:    "Duration of key rotation attempts in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"key"},
		)

		reencryptedVariables = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyward_reencrypted_variables_total",
				Help: "Total number of variables re-encrypted during rotations",
			},
			[]string{"key"},
		)

		healthCheckStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyward_key_health_status",
				Help: "Current key health (1=healthy, 0=needs attention)",
			},
			[]string{"key"},
		)

		metricsRegistered = true
	})
}

// RecordRotationStarted records a rotation start event.
func (m *Metrics) RecordRotationStarted(key, reason string) {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(key, reason).Inc()
}

// RecordRotationCompleted records a rotation outcome with its duration.
func (m *Metrics) RecordRotationCompleted(key, reason, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if rotationCompletedTotal != nil {
		rotationCompletedTotal.WithLabelValues(key, reason, status).Inc()
	}
	if rotationDuration != nil {
		rotationDuration.WithLabelValues(key).Observe(durationSeconds)
	}
}

// RecordReEncrypted records how many variables a rotation re-encrypted.
func (m *Metrics) RecordReEncrypted(key string, count int) {
	if !metricsRegistered || reencryptedVariables == nil {
		return
	}
	reencryptedVariables.WithLabelValues(key).Add(float64(count))
}

// RecordHealth records a key's health gauge.
func (m *Metrics) RecordHealth(key string, healthy bool) {
	if !metricsRegistered || healthCheckStatus == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	healthCheckStatus.WithLabelValues(key).Set(value)
}
