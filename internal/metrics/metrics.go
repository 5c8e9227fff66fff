package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "audiopanel"

// Metrics holds the collectors shared by the transport and the hub. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connected       prometheus.Gauge
	state           prometheus.Gauge
	reconnects      prometheus.Counter
	framesReceived  prometheus.Counter
	framesSent      prometheus.Counter
	decodeErrors    prometheus.Counter
	handlerErrors   *prometheus.CounterVec
	outboundPending prometheus.Gauge
	outboundDropped prometheus.Counter

	hubClients  prometheus.Gauge
	hubMessages *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 while the transport connection is open",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "state",
			Help:      "Current lifecycle state as its numeric value",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from the connection",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to the connection",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they failed to decode",
		}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "handler_errors_total",
			Help:      "Subscriber handler errors and panics",
		}, []string{"channel"}),
		outboundPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "outbound_pending",
			Help:      "Envelopes waiting for the connection to open",
		}),
		outboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "outbound_dropped_total",
			Help:      "Pending envelopes evicted because the outbound queue was full",
		}),

		hubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected hub clients",
		}),
		hubMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Hub envelopes by channel and direction",
		}, []string{"channel", "direction"}),
	}

	toRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connected, m.state, m.reconnects,
		m.framesReceived, m.framesSent, m.decodeErrors, m.handlerErrors,
		m.outboundPending, m.outboundDropped,
		m.hubClients, m.hubMessages,
	}
	for _, c := range toRegister {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetConnected records connection status.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// SetState records the lifecycle state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.state.Set(float64(state))
}

// IncReconnects counts a scheduled reconnect.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncFramesReceived counts an inbound frame.
func (m *Metrics) IncFramesReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// IncFramesSent counts an outbound frame.
func (m *Metrics) IncFramesSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// IncDecodeErrors counts a dropped malformed frame.
func (m *Metrics) IncDecodeErrors() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// IncHandlerErrors counts a failed handler invocation on channel.
func (m *Metrics) IncHandlerErrors(channel string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(channel).Inc()
}

// SetOutboundPending records the outbound queue depth.
func (m *Metrics) SetOutboundPending(n int) {
	if m == nil {
		return
	}
	m.outboundPending.Set(float64(n))
}

// IncOutboundDropped counts an evicted pending envelope.
func (m *Metrics) IncOutboundDropped() {
	if m == nil {
		return
	}
	m.outboundDropped.Inc()
}

// SetHubClients records the number of hub clients.
func (m *Metrics) SetHubClients(n int) {
	if m == nil {
		return
	}
	m.hubClients.Set(float64(n))
}

// IncHubMessages counts a hub envelope. direction is "in" or "out".
func (m *Metrics) IncHubMessages(channel, direction string) {
	if m == nil {
		return
	}
	m.hubMessages.WithLabelValues(channel, direction).Inc()
}
