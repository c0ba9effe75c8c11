// Package metrics exposes Prometheus counters for the generation lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records lifecycle metrics. A nil *Collector is a valid no-op.
type Collector struct {
	submissions        *prometheus.CounterVec
	statusFetches      *prometheus.CounterVec
	pollOutcomes       *prometheus.CounterVec
	artifactBytes      *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
}

// NewCollector registers the collector's metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Generation jobs submitted to the provider",
			},
			[]string{"variant", "result"},
		),
		statusFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_fetches_total",
				Help:      "Status fetches by observed status",
			},
			[]string{"status"},
		),
		pollOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_outcomes_total",
				Help:      "Completed wait-mode polls by outcome",
			},
			[]string{"outcome"},
		),
		artifactBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_bytes_total",
				Help:      "Bytes of generated images transferred",
			},
			[]string{"mode"},
		),
		generationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Time from submission to terminal status in wait mode",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"variant"},
		),
	}
}

// Submission counts a submit attempt; result is "ok" or "error".
func (c *Collector) Submission(variant, result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(variant, result).Inc()
}

// StatusFetch counts one status observation ("Pending", "Ready", "Error" or "failed").
func (c *Collector) StatusFetch(status string) {
	if c == nil {
		return
	}
	c.statusFetches.WithLabelValues(status).Inc()
}

// PollOutcome counts a finished poll: "ready", "error", "timeout" or "aborted".
func (c *Collector) PollOutcome(outcome string) {
	if c == nil {
		return
	}
	c.pollOutcomes.WithLabelValues(outcome).Inc()
}

// ArtifactBytes adds n transferred bytes; mode is "download" or "inline".
func (c *Collector) ArtifactBytes(mode string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.artifactBytes.WithLabelValues(mode).Add(float64(n))
}

func (c *Collector) GenerationDuration(variant string, d time.Duration) {
	if c == nil {
		return
	}
	c.generationDuration.WithLabelValues(variant).Observe(d.Seconds())
}
