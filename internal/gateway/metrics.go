package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of open websocket connections on this node",
		},
	)

	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_received_total",
			Help: "Inbound events by type",
		},
		[]string{"type"},
	)

	eventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_event_errors_total",
			Help: "Inbound events that were answered with an error",
		},
		[]string{"type"},
	)

	framesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_frames_dropped_total",
			Help: "Outbound frames dropped because a send buffer was full",
		},
	)

	handshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_handshake_failures_total",
			Help: "Connections rejected before upgrade",
		},
	)
)
