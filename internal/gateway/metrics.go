// ABOUTME: Prometheus instruments for gateway connections
// ABOUTME: A nil *Metrics is valid and records nothing

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/fleet/internal/protocol"
)

// Metrics counts gateway traffic across every connection in the process.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	protocolErrors prometheus.Counter
	heartbeats     prometheus.Counter
	zombies        prometheus.Counter
	reconnects     *prometheus.CounterVec
	writeErrors    *prometheus.CounterVec
	sockets        prometheus.Gauge
}

// NewMetrics registers the gateway instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns, sub = "fleet", "gateway"

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "frames_sent_total",
			Help:      "Frames written to gateway sockets, by opcode",
		}, []string{"op"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "frames_received_total",
			Help:      "Frames decoded from gateway sockets, by opcode",
		}, []string{"op"}),

		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "protocol_errors_total",
			Help:      "Inbound frames that could not be decoded",
		}),

		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "heartbeats_total",
			Help:      "Heartbeats enqueued by the scheduler",
		}),

		zombies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "zombies_total",
			Help:      "Sockets torn down for a missed heartbeat acknowledgment",
		}),

		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts, by outcome",
		}, []string{"result"}),

		writeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "write_errors_total",
			Help:      "Socket write failures, by severity",
		}, []string{"kind"}),

		sockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "open_sockets",
			Help:      "Gateway sockets currently open",
		}),
	}
}

func (m *Metrics) frameSent(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) frameReceived(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) zombie() {
	if m == nil {
		return
	}
	m.zombies.Inc()
}

func (m *Metrics) reconnect(result string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) writeError(terminal bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if terminal {
		kind = "terminal"
	}
	m.writeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) socketOpened() {
	if m == nil {
		return
	}
	m.sockets.Inc()
}

func (m *Metrics) socketClosed() {
	if m == nil {
		return
	}
	m.sockets.Dec()
}
