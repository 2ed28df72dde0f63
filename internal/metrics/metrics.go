// Package metrics exposes the homeserver's request and cron counters as
// Prometheus collectors: package-level prometheus.*Vec registered once,
// wrapped by small Record* helpers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homeserver_requests_total",
		Help: "Total HTTP requests handled, by route and status class.",
	}, []string{"route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homeserver_request_duration_seconds",
		Help:    "Request handling latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homeserver_rate_limited_total",
		Help: "Requests rejected by the per-address rate limiter.",
	})

	cronRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homeserver_cron_runs_total",
		Help: "Cron job executions, by job name.",
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, rateLimited, cronRuns)
}

// RecordRequest records one completed request's route, status class (e.g.
// "2xx", "4xx", "5xx"), and latency in seconds.
func RecordRequest(route, statusClass string, seconds float64) {
	requestsTotal.WithLabelValues(route, statusClass).Inc()
	requestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordRateLimited records one request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimited.Inc()
}

// RecordCronRun records one execution of the named cron job.
func RecordCronRun(job string) {
	cronRuns.WithLabelValues(job).Inc()
}

// Handler returns the Prometheus scrape handler, mounted at /metrics by
// internal/server.
func Handler() http.Handler {
	return promhttp.Handler()
}
