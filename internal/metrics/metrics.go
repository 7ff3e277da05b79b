// Package metrics exposes the server's Prometheus instrumentation: live
// connection gauges, bus lag, and per-operation latency, consumed by the
// HTTP API's /metrics endpoint (C10).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the server updates. A single instance
// is constructed at startup and threaded through the TCP/HTTP listeners
// and the engine.
type Registry struct {
	LiveConnections prometheus.Gauge
	ConnectionsByProtocol *prometheus.GaugeVec
	OperationLatency *prometheus.HistogramVec
	OperationErrors  *prometheus.CounterVec
	BusSubscribers  prometheus.Gauge
	BusLagged       prometheus.Counter
	FramesRead      *prometheus.CounterVec
	FramesWritten   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Registry{
		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lairchat",
			Name:      "live_connections",
			Help:      "Number of currently open client connections.",
		}),
		ConnectionsByProtocol: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lairchat",
			Name:      "connections_by_protocol",
			Help:      "Currently open connections, partitioned by transport protocol.",
		}, []string{"protocol"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lairchat",
			Name:      "operation_latency_seconds",
			Help:      "Latency of dispatched client operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lairchat",
			Name:      "operation_errors_total",
			Help:      "Dispatched operations that returned an error, by error kind.",
		}, []string{"operation", "kind"}),
		BusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lairchat",
			Name:      "bus_subscribers",
			Help:      "Current number of live event bus subscriptions.",
		}),
		BusLagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lairchat",
			Name:      "bus_lagged_events_total",
			Help:      "Events dropped for a subscriber whose buffer was full.",
		}),
		FramesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lairchat",
			Name:      "frames_read_total",
			Help:      "Wire frames read, by transport.",
		}, []string{"transport"}),
		FramesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lairchat",
			Name:      "frames_written_total",
			Help:      "Wire frames written, by transport.",
		}, []string{"transport"}),
	}
}
