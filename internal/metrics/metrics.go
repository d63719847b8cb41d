// Package metrics provides Prometheus metrics for shutter.
//
// A Metrics value owns its registry so tests and multiple app instances do not
// collide on the global default registry. All methods are nil-safe, so
// controllers can be built without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shutter"

// Lookup outcomes.
const (
	LookupOK      = "ok"
	LookupError   = "error"
	LookupStale   = "stale"
	LookupSkipped = "skipped"
)

// Capture outcomes.
const (
	CaptureSaved     = "saved"
	CaptureDiscarded = "discarded"
	CaptureFailed    = "failed"
)

// Metrics holds the collectors for one app instance.
type Metrics struct {
	registry *prometheus.Registry

	lookups        *prometheus.CounterVec
	lookupDuration prometheus.Histogram
	captures       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	historySize    prometheus.Gauge
}

// New creates a registry with process and Go runtime collectors plus the
// shutter collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Directory lookups by outcome (ok, error, stale, skipped).",
			},
			[]string{"outcome"},
		),
		lookupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lookup_duration_seconds",
				Help:      "Duration of directory lookups in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		captures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captures_total",
				Help:      "Captures by media kind and outcome (saved, discarded, failed).",
			},
			[]string{"kind", "outcome"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_state_transitions_total",
				Help:      "Capture controller state entries by target state.",
			},
			[]string{"state"},
		),
		historySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "search_history_entries",
				Help:      "Current number of search history entries.",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordLookup records a finished lookup. Skipped lookups carry no duration.
func (m *Metrics) RecordLookup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
	if outcome != LookupSkipped {
		m.lookupDuration.Observe(d.Seconds())
	}
}

// RecordCapture records the fate of a photo or video.
func (m *Metrics) RecordCapture(kind, outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(kind, outcome).Inc()
}

// RecordTransition counts entry into a capture state.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// SetHistorySize sets the history gauge.
func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(n))
}
