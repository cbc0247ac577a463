package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheEvents counts cache lookups by cache name and outcome (hit, miss, expired).
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugprice_cache_events_total",
			Help: "Cache lookups by cache and outcome",
		},
		[]string{"cache", "outcome"},
	)

	// ProviderCalls counts provider invocations by source and outcome (ok, empty, error, timeout, panic).
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugprice_provider_calls_total",
			Help: "Provider invocations by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drugprice_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// Aggregations counts aggregate calls by outcome (cached, found, not_found).
	Aggregations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugprice_aggregations_total",
			Help: "Aggregations by outcome",
		},
		[]string{"outcome"},
	)

	AlertsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drugprice_alerts_fired_total",
			Help: "Price alerts whose target was met on evaluation",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugprice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drugprice_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)
