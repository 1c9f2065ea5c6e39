// Package metrics exposes connection and pipeline counters as Prometheus
// instruments. These are observational only: nothing in the rest of the
// module reads them back, so their absence never changes control flow.
// Only ConnectionState and ReconnectFails are updated, by internal/assistant;
// the other counters are registered but nothing in the module increments
// them, so they stay at zero.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument this module reports. Construct once with
// New and register with a prometheus.Registerer (typically
// prometheus.DefaultRegisterer) via Register.
type Metrics struct {
	PingCount       prometheus.Counter
	PongCount       prometheus.Counter
	ReconnectFails  prometheus.Counter
	UploadBytes     prometheus.Counter
	PlayerUnderruns prometheus.Counter
	CaptureDropped  prometheus.Counter
	ConnectionState prometheus.Gauge
}

// New constructs a fresh set of instruments, unregistered.
func New() *Metrics {
	return &Metrics{
		PingCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "wsclient",
			Name:      "ping_total",
			Help:      "Total PING frames sent to the cloud endpoint.",
		}),
		PongCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "wsclient",
			Name:      "pong_total",
			Help:      "Total PONG frames received from the cloud endpoint.",
		}),
		ReconnectFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "wsclient",
			Name:      "reconnect_failures_total",
			Help:      "Total disconnects of an established WebSocket connection; failed connect/handshake attempts are not counted.",
		}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "cloudasr",
			Name:      "upload_bytes_total",
			Help:      "Total mic audio bytes uploaded to the cloud endpoint.",
		}),
		PlayerUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "player",
			Name:      "underrun_total",
			Help:      "Total times the MP3 decoder starved waiting for more data.",
		}),
		CaptureDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voiceassistant",
			Subsystem: "capture",
			Name:      "frames_dropped_total",
			Help:      "Total captured frames dropped because the ring buffer was full.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voiceassistant",
			Subsystem: "wsclient",
			Name:      "connected",
			Help:      "1 if the WebSocket client currently holds a live connection, else 0.",
		}),
	}
}

// Register adds every instrument to reg. Call once at startup.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.PingCount, m.PongCount, m.ReconnectFails, m.UploadBytes,
		m.PlayerUnderruns, m.CaptureDropped, m.ConnectionState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
