// Package metrics exposes Prometheus collectors for mirror probing and
// resource resolution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetcdn"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	probeAttempts   *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	healthRounds    prometheus.Counter
	mirrorAvailable *prometheus.GaugeVec
	resolutions     *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_attempts_total",
			Help:      "Mirror probe attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a complete mirror probe.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		healthRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_rounds_total",
			Help:      "Completed mirror health-check rounds.",
		}),
		mirrorAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_available",
			Help:      "1 if the mirror was available in the latest round.",
		}, []string{"mirror"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved resource URLs by source.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.probeAttempts,
		m.probeDuration,
		m.healthRounds,
		m.mirrorAvailable,
		m.resolutions,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ProbeAttempt counts one probe tier.
func (m *Metrics) ProbeAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.probeAttempts.WithLabelValues(method, outcome).Inc()
}

// ProbeFinished observes the duration of a complete probe.
func (m *Metrics) ProbeFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.Observe(d.Seconds())
}

// RoundCompleted records a finished round and the availability of each mirror.
func (m *Metrics) RoundCompleted(available map[string]bool) {
	if m == nil {
		return
	}
	m.healthRounds.Inc()
	m.mirrorAvailable.Reset()
	for mirror, ok := range available {
		v := 0.0
		if ok {
			v = 1
		}
		m.mirrorAvailable.WithLabelValues(mirror).Set(v)
	}
}

// Resolution counts one resolved URL by source ("local", "mirror", "passthrough").
func (m *Metrics) Resolution(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}
