// Package metrics holds the Prometheus collectors for the pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and one-shot CLI commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kudos"

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	flushes          *prometheus.CounterVec
	flushActions     *prometheus.CounterVec
	flushDuration    *prometheus.HistogramVec
	sweepRuns        *prometheus.CounterVec
	sweepWrites      *prometheus.CounterVec
	toggles          *prometheus.CounterVec
	feedItems        *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	queueDecodeError *prometheus.CounterVec
}

// New registers every collector on reg. It returns nil when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_total",
			Help:      "Batch flushes by kind and outcome",
		}, []string{"kind", "outcome"}),
		flushActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_actions_total",
			Help:      "Actions handled by batch flushes, by result",
		}, []string{"kind", "result"}),
		flushDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of batch flushes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Reconciliation sweep runs by outcome",
		}, []string{"outcome"}),
		sweepWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_writes_total",
			Help:      "Durable writes applied by the reconciliation sweep",
		}, []string{"op"}),
		toggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Toggle requests by kind and resolved direction",
		}, []string{"kind", "result"}),
		feedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_items_total",
			Help:      "Feed items served by source pool",
		}, []string{"source"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch attempts by outcome",
		}, []string{"outcome"}),
		queueDecodeError: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_decode_errors_total",
			Help:      "Queue messages dropped because they could not be decoded",
		}, []string{"kind"}),
	}
}

// Flush records one flush. outcome is "ok" or "error".
func (m *Metrics) Flush(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(kind, outcome).Inc()
	m.flushDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// FlushActions adds n to the per-result action counter. Zero is skipped.
func (m *Metrics) FlushActions(kind, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.flushActions.WithLabelValues(kind, result).Add(float64(n))
}

// SweepRun counts one sweep pass by outcome.
func (m *Metrics) SweepRun(outcome string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(outcome).Inc()
}

// SweepWrites adds n rows written by a sweep; op is "create" or "delete".
func (m *Metrics) SweepWrites(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepWrites.WithLabelValues(op).Add(float64(n))
}

// Toggle counts one toggle decision.
func (m *Metrics) Toggle(kind, result string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(kind, result).Inc()
}

// FeedItems adds n feed items served from source.
func (m *Metrics) FeedItems(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.feedItems.WithLabelValues(source).Add(float64(n))
}

// Notification counts one delivery attempt.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// DecodeError counts a queue message that could not be decoded.
func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.queueDecodeError.WithLabelValues(kind).Inc()
}
