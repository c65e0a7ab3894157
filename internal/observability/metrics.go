package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service and the realtime client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	RealtimeEvents     *prometheus.CounterVec
	DroppedEvents      *prometheus.CounterVec
	CommandMisuse      *prometheus.CounterVec
	HandlerPanics      *prometheus.CounterVec
	Charges            *prometheus.CounterVec
	CredentialRequests *prometheus.CounterVec
	NegotiationLatency prometheus.Histogram

	stages *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_realtime_credentials",
			Help:      "Issued realtime credentials that have not expired yet.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		RealtimeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime protocol events by direction and type.",
		}, []string{"direction", "type"}),
		DroppedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_dropped_total",
			Help:      "Inbound realtime events dropped by reason.",
		}, []string{"reason"}),
		CommandMisuse: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_misuse_total",
			Help:      "Session commands issued in a state that does not allow them.",
		}, []string{"command"}),
		HandlerPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_panics_total",
			Help:      "Event bus handlers that panicked, by event type.",
		}, []string{"type"}),
		Charges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Credit charges by usage type and result.",
		}, []string{"usage_type", "result"}),
		CredentialRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_requests_total",
			Help:      "Ephemeral credential requests by result.",
		}, []string{"result"}),
		NegotiationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_latency_ms",
			Help:      "Time from connect to an open realtime channel in milliseconds.",
			Buckets:   []float64{100, 250, 500, 750, 1000, 1500, 2500, 5000},
		}),
		stages: NewLatencyWindow(256),
	}
}

func (m *Metrics) ObserveNegotiation(d time.Duration) {
	if m == nil {
		return
	}
	m.NegotiationLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageNegotiation, d)
}

// ObserveStage records a latency sample in the rolling window only.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, d)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return (*LatencyWindow)(nil).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveRealtimeEvent(direction, eventType string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(direction, eventType).Inc()
}

func (m *Metrics) ObserveDroppedEvent(reason string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCommandMisuse(command string) {
	if m == nil {
		return
	}
	m.CommandMisuse.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveHandlerPanic(eventType string) {
	if m == nil {
		return
	}
	m.HandlerPanics.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveCharge(usageType, result string) {
	if m == nil {
		return
	}
	m.Charges.WithLabelValues(usageType, result).Inc()
}

func (m *Metrics) ObserveCredentialRequest(result string) {
	if m == nil {
		return
	}
	m.CredentialRequests.WithLabelValues(result).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
