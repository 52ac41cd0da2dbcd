// Package metrics exposes the prometheus collectors shared across the
// socket pool, parameter watcher and event pipeline, grouped the way
// the teacher's metrics.go groups its WebSocket server counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the core publishes. Callers embed a
// *Registry (or nil, which disables metrics) in each subsystem constructor
// instead of reaching for prometheus' default registry directly, so
// multiple clients in one process don't collide on metric names.
type Registry struct {
	RPCCallsTotal     *prometheus.CounterVec
	RPCErrorsTotal    *prometheus.CounterVec
	SocketErrorsTotal *prometheus.CounterVec
	RPCLatencySeconds *prometheus.HistogramVec

	WatcherDueSize  prometheus.Gauge
	WatcherRowCount prometheus.Gauge

	EventQueueDepth prometheus.Gauge
	EventsTotal     *prometheus.CounterVec
	EventsDropped   prometheus.Counter
}

// New creates and registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer, namespace string) *Registry {
	m := &Registry{
		RPCCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Total RPC calls issued through the socket pool, by method.",
		}, []string{"method"}),
		RPCErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total server-side RPC rejections, by method.",
		}, []string{"method"}),
		SocketErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_errors_total",
			Help:      "Total transport failures (poisoned sockets), by method.",
		}, []string{"method"}),
		RPCLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "Round-trip latency of successful RPC calls.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method"}),
		WatcherDueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_due_size",
			Help:      "Size of the most recent due-candidate set.",
		}),
		WatcherRowCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_row_count",
			Help:      "Current number of watcher rows.",
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Current depth of the in-process event queue.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total events enqueued, by name.",
		}, []string{"name"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total events dropped by the event name filter.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.RPCCallsTotal, m.RPCErrorsTotal, m.SocketErrorsTotal, m.RPCLatencySeconds,
		m.WatcherDueSize, m.WatcherRowCount, m.EventQueueDepth, m.EventsTotal, m.EventsDropped,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}
	return m
}
