package services

import (
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// SecurityMetrics exposes abuse-prevention counters. A nil *SecurityMetrics is a no-op.
type SecurityMetrics struct {
	decisions      *prometheus.CounterVec
	lockouts       prometheus.Counter
	events         *prometheus.CounterVec
	trackedRecords *prometheus.GaugeVec
	sweptRecords   *prometheus.CounterVec
}

// NewSecurityMetrics creates and registers the collectors on reg
func NewSecurityMetrics(reg prometheus.Registerer) *SecurityMetrics {
	m := &SecurityMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit admission decisions by tier and outcome.",
		}, []string{"tier", "outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "lockouts_total",
			Help:      "Identities moved into the locked state.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "security_events_total",
			Help:      "Security events emitted by type and severity.",
		}, []string{"type", "severity"}),
		trackedRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bulwark",
			Name:      "tracked_records",
			Help:      "In-memory records after the last sweep.",
		}, []string{"store"}),
		sweptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "swept_records_total",
			Help:      "Records evicted by the sweeper.",
		}, []string{"store"}),
	}

	reg.MustRegister(m.decisions, m.lockouts, m.events, m.trackedRecords, m.sweptRecords)
	return m
}

func (m *SecurityMetrics) observeDecision(tier models.Tier, d models.Decision) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	m.decisions.WithLabelValues(string(tier), outcome).Inc()
}

func (m *SecurityMetrics) observeLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// ObserveEvent implements logger.EventObserver
func (m *SecurityMetrics) ObserveEvent(event models.SecurityEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event.Type), event.Severity.String()).Inc()
}

// ObserveSweep records the outcome of one sweep pass
func (m *SecurityMetrics) ObserveSweep(store string, removed, remaining int) {
	if m == nil {
		return
	}
	m.sweptRecords.WithLabelValues(store).Add(float64(removed))
	m.trackedRecords.WithLabelValues(store).Set(float64(remaining))
}
