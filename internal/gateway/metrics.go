package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_requests_total",
			Help: "Total number of requests served, by route and status class",
		},
		[]string{"route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_request_duration_seconds",
			Help:    "End to end request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// statusClass folds a status code into its class ("2xx", "4xx", ...) to
// bound label cardinality.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
