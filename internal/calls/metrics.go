package calls

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calls_initiated_total",
			Help: "Total number of calls initiated",
		},
		[]string{"type"},
	)

	callTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calls_transitions_total",
			Help: "Committed call status transitions by target status",
		},
		[]string{"status"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calls_duration_seconds",
			Help:    "Duration of calls that reached ACTIVE",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"type"},
	)
)

func recordTransition(call *Call) {
	callTransitions.WithLabelValues(string(call.Status)).Inc()
	if call.Status == StatusEnded {
		callDuration.WithLabelValues(string(call.Type)).Observe(float64(call.Duration))
	}
}
