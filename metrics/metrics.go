// Package metrics exposes prometheus counters for frames and lobby outcomes.
// A *Metrics is a framedconn.FrameObserver, so one instance can be attached to
// every connection a server creates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "duel"

// Metrics holds the collectors registered by New.
type Metrics struct {
	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter
	lobbies        *prometheus.CounterVec
	lobbyDuration  prometheus.Histogram
	activeSessions prometheus.Gauge
}

// New registers the collectors with reg.
//
// Parameters:
//   - reg: Registry the collectors are added to; prometheus.DefaultRegisterer when nil
//   - namespace: Metric name prefix; DefaultNamespace when empty
//
// Returns:
//   - The metrics. New panics if the collectors are already registered with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	factory := promauto.With(reg)

	return &Metrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of complete frames read",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_sent_total",
			Help:      "Total payload bytes written, headers excluded",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_received_total",
			Help:      "Total payload bytes read, headers excluded",
		}),
		lobbies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lobbies_total",
			Help:      "Finished lobbies by outcome",
		}, []string{"outcome"}),
		lobbyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lobby_duration_seconds",
			Help:      "Time from lobby start to its outcome",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Confirmed sessions currently handed to the application",
		}),
	}
}

// FrameSent records one written frame.
func (m *Metrics) FrameSent(payloadBytes int) {
	m.framesSent.Inc()
	m.bytesSent.Add(float64(payloadBytes))
}

// FrameReceived records one complete frame read.
func (m *Metrics) FrameReceived(payloadBytes int) {
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(payloadBytes))
}

// LobbyFinished records a lobby outcome and how long the lobby ran.
func (m *Metrics) LobbyFinished(outcome string, d time.Duration) {
	m.lobbies.WithLabelValues(outcome).Inc()
	m.lobbyDuration.Observe(d.Seconds())
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	m.activeSessions.Dec()
}
