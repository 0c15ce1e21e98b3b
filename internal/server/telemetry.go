package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "metricstables"

// Telemetry holds the service metrics on a private registry, so tests and
// multiple server instances never collide on registration.
type Telemetry struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	tableFetches  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	liveSessions  prometheus.Gauge
}

func NewTelemetry() *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Telemetry{
		registry: registry,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
			},
			[]string{"method", "path"},
		),
		tableFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "table_fetches_total",
				Help:      "Total number of table fetches by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "table_fetch_duration_seconds",
				Help:      "Time spent querying the metrics backend and building a table page.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10),
			},
			[]string{"kind"},
		),
		liveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "live_sessions_active",
				Help:      "Number of active live table sessions.",
			},
		),
	}
}

// ObserveCache exports hit and miss counters backed by the query cache.
func (t *Telemetry) ObserveCache(stats func() (hits, misses uint64)) {
	factory := promauto.With(t.registry)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_hits_total",
			Help:      "Total number of metric query cache hits.",
		},
		func() float64 {
			hits, _ := stats()
			return float64(hits)
		},
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_cache_misses_total",
			Help:      "Total number of metric query cache misses.",
		},
		func() float64 {
			_, misses := stats()
			return float64(misses)
		},
	)
}

// Handler serves the registry in Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// instrument records request counts and latency per route template.
func (t *Telemetry) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		t.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		t.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
