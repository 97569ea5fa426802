// Package exporter exposes timing data as Prometheus metrics: gauges for the
// current export window, a duration histogram fed by tracker observations,
// and host gauges for context.
package exporter

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/phasetime/pkg/timing"
)

const namespace = "phasetime"

// TrackerCollector reads a tracker's current window on every scrape
type TrackerCollector struct {
	tracker *timing.Tracker

	seconds     *prometheus.Desc
	invocations *prometheus.Desc
	rejected    *prometheus.Desc
}

// NewTrackerCollector creates a collector for t
func NewTrackerCollector(t *timing.Tracker, constLabels prometheus.Labels) *TrackerCollector {
	return &TrackerCollector{
		tracker: t,
		seconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "window", "phase_seconds"),
			"Seconds accumulated per phase in the current export window",
			[]string{"phase"}, constLabels,
		),
		invocations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "window", "phase_invocations"),
			"Invocations per phase in the current export window",
			[]string{"phase"}, constLabels,
		),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "window", "rejected_samples"),
			"Invalid durations dropped in the current export window",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector
func (c *TrackerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.seconds
	ch <- c.invocations
	ch <- c.rejected
}

// Collect implements prometheus.Collector
func (c *TrackerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.tracker.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.seconds, prometheus.GaugeValue, st.Seconds, st.Phase)
		ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.GaugeValue, float64(st.Count), st.Phase)
	}
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.GaugeValue, float64(c.tracker.Rejected()))
}

// PhaseHistogram records every accepted sample in a duration histogram.
// Unlike the window gauges it is cumulative across tracker resets.
type PhaseHistogram struct {
	durations *prometheus.HistogramVec
}

// DefaultBuckets span 0.5ms to roughly 4 minutes
var DefaultBuckets = prometheus.ExponentialBuckets(0.0005, 2, 20)

// NewPhaseHistogram creates the histogram; nil buckets selects DefaultBuckets
func NewPhaseHistogram(buckets []float64) *PhaseHistogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return &PhaseHistogram{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of individual phase invocations",
				Buckets:   buckets,
			},
			[]string{"phase", "outcome"},
		),
	}
}

// ObservePhase implements timing.Observer
func (h *PhaseHistogram) ObservePhase(_ context.Context, s timing.Sample) {
	h.durations.WithLabelValues(s.Phase, outcome(s.Err)).Observe(s.Seconds)
}

// Describe implements prometheus.Collector
func (h *PhaseHistogram) Describe(ch chan<- *prometheus.Desc) {
	h.durations.Describe(ch)
}

// Collect implements prometheus.Collector
func (h *PhaseHistogram) Collect(ch chan<- prometheus.Metric) {
	h.durations.Collect(ch)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, timing.ErrAborted):
		return "aborted"
	default:
		return "error"
	}
}
