// Package metrics holds the Prometheus collectors exported by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RiskDetected    prometheus.Counter
	GuardProcessed  *prometheus.CounterVec // by resulting status
	GuardSkipped    prometheus.Counter
	CooldownChanges *prometheus.CounterVec // by change kind
	OrdersSynced    *prometheus.CounterVec // by platform
	NotifyDropped   prometheus.Counter
	ListingActions  *prometheus.CounterVec // by action type and outcome
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RiskDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listing_guard_risk_detected_total",
			Help: "Accounts found online while not renting.",
		}),
		GuardProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_guard_tasks_processed_total",
			Help: "Guard tasks processed by the worker, by resulting status.",
		}, []string{"status"}),
		GuardSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listing_guard_worker_skipped_total",
			Help: "Worker passes skipped because another instance held the lease.",
		}),
		CooldownChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_guard_cooldown_changes_total",
			Help: "Cooldown reconciler changes, by kind.",
		}, []string{"kind"}),
		OrdersSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_guard_orders_synced_total",
			Help: "Orders written by the order sync, by platform.",
		}, []string{"platform"}),
		NotifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listing_guard_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full.",
		}),
		ListingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_guard_listing_actions_total",
			Help: "Listing actions executed, by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(m.RiskDetected, m.GuardProcessed, m.GuardSkipped, m.CooldownChanges,
		m.OrdersSynced, m.NotifyDropped, m.ListingActions)
	return m
}

// Detected counts one risk detection.
func (m *Metrics) Detected() {
	if m != nil {
		m.RiskDetected.Inc()
	}
}

// Processed counts a guard task ending a pass in status.
func (m *Metrics) Processed(status string) {
	if m != nil {
		m.GuardProcessed.WithLabelValues(status).Inc()
	}
}

// WorkerSkipped counts a pass that did not obtain the lease.
func (m *Metrics) WorkerSkipped() {
	if m != nil {
		m.GuardSkipped.Inc()
	}
}

// Cooldown adds n changes of kind.
func (m *Metrics) Cooldown(kind string, n int) {
	if m != nil && n > 0 {
		m.CooldownChanges.WithLabelValues(kind).Add(float64(n))
	}
}

// Orders adds n synced orders for platform.
func (m *Metrics) Orders(platform string, n int) {
	if m != nil && n > 0 {
		m.OrdersSynced.WithLabelValues(platform).Add(float64(n))
	}
}

// Dropped counts a dropped notification.
func (m *Metrics) Dropped() {
	if m != nil {
		m.NotifyDropped.Inc()
	}
}

// Action counts an executed listing action.
func (m *Metrics) Action(typ, outcome string) {
	if m != nil {
		m.ListingActions.WithLabelValues(typ, outcome).Inc()
	}
}
