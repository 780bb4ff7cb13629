// Package metrics holds the process Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sparkbridge"

// Method call outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeError          = "error"
	OutcomeNotImplemented = "not_implemented"
)

var (
	MethodCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "method_calls_total",
			Help:      "Method calls received from the application layer, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	VendorCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_callbacks_total",
			Help:      "Callbacks fired by the recognition vendor, by callback.",
		},
		[]string{"callback"},
	)

	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events delivered to the application layer, by event and result.",
		},
		[]string{"event", "result"},
	)

	ChannelConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_connections",
			Help:      "Open websocket channel connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(MethodCalls, VendorCallbacks, EventsDelivered, ChannelConnections)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
