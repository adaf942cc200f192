// Package metrics holds the prometheus collectors shared by the chat
// engine and the dev relay. The relay exposes them on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportchat",
		Name:      "frames_classified_total",
		Help:      "Inbound socket frames by classified kind.",
	}, []string{"kind"})

	DedupSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "supportchat",
		Name:      "dedup_suppressed_total",
		Help:      "Inbound messages dropped as already applied.",
	})

	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "supportchat",
		Name:      "reconnect_attempts_total",
		Help:      "Visibility-driven socket reconnect attempts.",
	})

	RelayConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "supportchat",
		Subsystem: "relay",
		Name:      "connections_total",
		Help:      "Accepted relay websocket connections.",
	})

	RelayFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "supportchat",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Frames relayed to peers.",
	})
)

func init() {
	prometheus.MustRegister(
		FramesClassified,
		DedupSuppressed,
		ReconnectAttempts,
		RelayConnections,
		RelayFrames,
	)
}
