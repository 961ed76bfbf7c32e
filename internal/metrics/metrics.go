// Package metrics defines the client's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles all counters the sync engine and transport report.
type Metrics struct {
	// EventsApplied counts inbound protocol events by kind, after validation.
	EventsApplied *prometheus.CounterVec
	// DuplicatesDropped counts inbound events absorbed as idempotent no-ops
	// (duplicate appends, unknown ids, already-unsent messages).
	DuplicatesDropped prometheus.Counter
	// StatusRegressions counts status updates rejected for ordering.
	StatusRegressions prometheus.Counter
	// Reconnects counts transport reconnect attempts after a lost connection.
	Reconnects prometheus.Counter
	// TimerExpiries counts scheduled timer fires by purpose.
	TimerExpiries *prometheus.CounterVec
	// Notices counts transient user-visible notices by level.
	Notices *prometheus.CounterVec
}

// New registers and returns the metric set on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "events_applied_total",
			Help:      "Inbound protocol events applied, by kind.",
		}, []string{"kind"}),
		DuplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "duplicates_dropped_total",
			Help:      "Inbound events absorbed as idempotent no-ops.",
		}),
		StatusRegressions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "status_regressions_total",
			Help:      "Delivery-status updates rejected for ordering.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnect attempts after a lost connection.",
		}),
		TimerExpiries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "timer_expiries_total",
			Help:      "Scheduled timer fires, by purpose.",
		}, []string{"purpose"}),
		Notices: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatlink",
			Name:      "notices_total",
			Help:      "Transient user-visible notices, by level.",
		}, []string{"level"}),
	}
}

// NewNop returns a metric set bound to a throwaway registry, for tests and
// for callers that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
