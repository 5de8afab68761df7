package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsession"

// Metrics contains the connection and session metrics shared by all peers
type Metrics struct {
	ConnectionState       prometheus.Gauge
	ConnectionTransitions *prometheus.CounterVec
	EnvelopesSent         *prometheus.CounterVec
	EnvelopesReceived     *prometheus.CounterVec
	DecodeErrors          prometheus.Counter
	SessionErrors         *prometheus.CounterVec
	PeerResponding        *prometheus.GaugeVec
	PingsSent             *prometheus.CounterVec
	FilterMatches         *prometheus.CounterVec
	ValuesPublished       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=authenticating, 4=authenticated, 5=error)",
			},
		),

		ConnectionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "transitions_total",
				Help:      "Total number of connection state transitions",
			},
			[]string{"from", "to"},
		),

		EnvelopesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "envelopes",
				Name:      "sent_total",
				Help:      "Total number of envelopes sent",
			},
			[]string{"peer", "type"},
		),

		EnvelopesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "envelopes",
				Name:      "received_total",
				Help:      "Total number of envelopes received",
			},
			[]string{"peer", "type"},
		),

		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "envelopes",
				Name:      "decode_errors_total",
				Help:      "Total number of inbound envelopes that failed to decode",
			},
		),

		SessionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "errors_total",
				Help:      "Total number of session errors by kind",
			},
			[]string{"peer", "kind"},
		),

		PeerResponding: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "peer_responding",
				Help:      "Peer responsiveness as judged by the watchdog (0=silent, 1=responding)",
			},
			[]string{"peer"},
		),

		PingsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "pings_total",
				Help:      "Total number of watchdog pings sent",
			},
			[]string{"peer"},
		),

		FilterMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "filter",
				Name:      "matches_total",
				Help:      "Total number of filter handler invocations",
			},
			[]string{"peer"},
		),

		ValuesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "published_total",
				Help:      "Total number of values published to consumers",
			},
			[]string{"peer", "key"},
		),
	}
}

// RecordConnectionState updates the connection state gauge
func (m *Metrics) RecordConnectionState(state int) {
	m.ConnectionState.Set(float64(state))
}

// RecordTransition increments the transition counter
func (m *Metrics) RecordTransition(from, to string) {
	m.ConnectionTransitions.WithLabelValues(from, to).Inc()
}

// RecordEnvelopeSent increments the sent counter
func (m *Metrics) RecordEnvelopeSent(peer, envelopeType string) {
	m.EnvelopesSent.WithLabelValues(peer, envelopeType).Inc()
}

// RecordEnvelopeReceived increments the received counter
func (m *Metrics) RecordEnvelopeReceived(peer, envelopeType string) {
	m.EnvelopesReceived.WithLabelValues(peer, envelopeType).Inc()
}

// RecordDecodeError increments the decode error counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordSessionError increments the session error counter
func (m *Metrics) RecordSessionError(peer, kind string) {
	m.SessionErrors.WithLabelValues(peer, kind).Inc()
}

// RecordPeerResponding updates the responsiveness gauge
func (m *Metrics) RecordPeerResponding(peer string, responding bool) {
	value := 0.0
	if responding {
		value = 1.0
	}
	m.PeerResponding.WithLabelValues(peer).Set(value)
}

// RecordPing increments the ping counter
func (m *Metrics) RecordPing(peer string) {
	m.PingsSent.WithLabelValues(peer).Inc()
}

// RecordFilterMatches adds n handler invocations
func (m *Metrics) RecordFilterMatches(peer string, n int) {
	if n > 0 {
		m.FilterMatches.WithLabelValues(peer).Add(float64(n))
	}
}

// RecordPublished increments the published value counter
func (m *Metrics) RecordPublished(peer, key string) {
	m.ValuesPublished.WithLabelValues(peer, key).Inc()
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionState,
		m.ConnectionTransitions,
		m.EnvelopesSent,
		m.EnvelopesReceived,
		m.DecodeErrors,
		m.SessionErrors,
		m.PeerResponding,
		m.PingsSent,
		m.FilterMatches,
		m.ValuesPublished,
	}
}
