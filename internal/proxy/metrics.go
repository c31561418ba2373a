package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_upstream_duration_seconds",
			Help:    "Duration of upstream round trips in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	upstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_upstream_retries_total",
			Help: "Total number of upstream retry attempts",
		},
		[]string{"route"},
	)

	websocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_websocket_connections_total",
			Help: "Total number of proxied WebSocket connections",
		},
		[]string{"route", "status"},
	)
)
