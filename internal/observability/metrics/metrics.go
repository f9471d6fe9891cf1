package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for inbound webhook processing.
type WebhookMetrics struct {
	eventsTotal        *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
	unhandledOps       *prometheus.CounterVec
	invalidTransitions *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Total webhook events by provider, type and outcome",
		}, []string{"provider", "event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),
		unhandledOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "accounting",
			Name:      "unhandled_operations_total",
			Help:      "Accounting change notifications accepted but not reconciled (Delete/Merge/Void)",
		}, []string{"operation", "entity"}),
		invalidTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "calls",
			Name:      "invalid_transitions_total",
			Help:      "Call events rejected by the state machine",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.webhookLatency, m.unhandledOps, m.invalidTransitions)
	return m
}

func (m *WebhookMetrics) ObserveEvent(provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func (m *WebhookMetrics) ObserveLatency(provider, eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider, eventType).Observe(seconds)
}

func (m *WebhookMetrics) ObserveUnhandledOperation(operation, entity string) {
	if m == nil {
		return
	}
	m.unhandledOps.WithLabelValues(operation, entity).Inc()
}

func (m *WebhookMetrics) ObserveInvalidTransition(eventType string) {
	if m == nil {
		return
	}
	m.invalidTransitions.WithLabelValues(eventType).Inc()
}

// SyncMetrics tracks bulk sync phase outcomes.
type SyncMetrics struct {
	recordsTotal  *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crm",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records processed by bulk sync, by phase and outcome",
		}, []string{"phase", "outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crm",
			Subsystem: "sync",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each sync phase",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"phase"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.recordsTotal, m.phaseDuration)
	return m
}

func (m *SyncMetrics) ObserveRecord(phase, outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(phase, outcome).Inc()
}

func (m *SyncMetrics) ObservePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(seconds)
}
