package api

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce   sync.Once
	requestsTotal  *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
)

// RegisterMetrics registers the API client collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bosla_api_requests_total",
			Help: "Total number of requests sent to the Bosla API.",
		}, []string{"method", "route", "status"})

		requestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bosla_api_request_seconds",
			Help:    "Latency distribution of requests sent to the Bosla API.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"})

		prometheus.MustRegister(requestsTotal, requestSeconds)
	})
}

// observe records one request; status 0 means a transport failure.
func observe(method, route string, status int, d time.Duration) {
	RegisterMetrics()
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	requestsTotal.WithLabelValues(method, route, label).Inc()
	requestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
