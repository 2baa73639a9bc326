package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "queue_depth",
			Help:      "Pending entries held by the queue processor",
		},
	)

	instanceLoadGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "instance_current_load",
			Help:      "Concurrent in-flight requests per instance",
		},
		[]string{"instance"},
	)

	dispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "dispatches_total",
			Help:      "Dispatch attempts sent to a backend instance",
		},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "retries_total",
			Help:      "Retry attempts after a failed dispatch",
		},
	)

	requestTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "request_timeouts_total",
			Help:      "Requests that expired while queued or executing",
		},
	)

	healthTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "core",
			Name:      "health_transitions_total",
			Help:      "Instance health status transitions",
		},
		[]string{"instance", "to"},
	)
)

func init() {
	prometheus.MustRegister(
		queueDepthGauge,
		instanceLoadGauge,
		dispatchesTotal,
		retriesTotal,
		requestTimeoutsTotal,
		healthTransitionsTotal,
	)
}
