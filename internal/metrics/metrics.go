// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestsTotal              *prometheus.CounterVec
	harvestDurationSeconds     *prometheus.HistogramVec
	harvestRecordsTotal        *prometheus.CounterVec
	discoveryTotal             *prometheus.CounterVec
	paginationPagesTotal       *prometheus.CounterVec
	scrollRounds               prometheus.Histogram
	sideEffectFailuresTotal    *prometheus.CounterVec
	browserSessionsActive      prometheus.Gauge
	sessionsSweptTotal         prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_harvests_total",
				Help: "Total number of harvests, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		harvestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_harvest_duration_seconds",
				Help:    "Wall time per harvest, labeled by strategy.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"strategy"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Total number of exported records, labeled by site and strategy.",
			},
			[]string{"site", "strategy"},
		)

		discoveryTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_discovery_total",
				Help: "API discovery attempts, labeled by whether an endpoint was found.",
			},
			[]string{"found"},
		)

		paginationPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pagination_pages_total",
				Help: "Endpoint pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrollRounds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_scroll_rounds",
				Help:    "Scroll rounds performed per scroll harvest.",
				Buckets: []float64{1, 2, 3, 5, 8, 12, 15, 20, 30},
			},
		)

		sideEffectFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_side_effect_failures_total",
				Help: "Best-effort export side effects that failed, labeled by target.",
			},
			[]string{"target"},
		)

		browserSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_browser_sessions_active",
				Help: "Number of browser sessions currently open.",
			},
		)

		sessionsSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_sessions_swept_total",
				Help: "Finished progress sessions removed after their retention window.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time spent waiting for the per-host pagination limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHarvest records one finished harvest.
func ObserveHarvest(site, strategy, result string, records int, duration time.Duration) {
	Init()
	if strategy == "" {
		strategy = "none"
	}
	harvestsTotal.WithLabelValues(strategy, result).Inc()
	harvestDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
	if records > 0 {
		harvestRecordsTotal.WithLabelValues(SanitizeSite(site), strategy).Add(float64(records))
	}
}

// ObserveDiscovery records the outcome of an API discovery attempt.
func ObserveDiscovery(found bool) {
	Init()
	discoveryTotal.WithLabelValues(strconv.FormatBool(found)).Inc()
}

// ObservePaginationPages records fetched pages and whether pagination ended early.
func ObservePaginationPages(pages int, partial bool) {
	Init()
	if pages > 0 {
		paginationPagesTotal.WithLabelValues("ok").Add(float64(pages))
	}
	if partial {
		paginationPagesTotal.WithLabelValues("stopped").Inc()
	}
}

// ObserveScrollRounds records the rounds performed by one scroll harvest.
func ObserveScrollRounds(rounds int) {
	Init()
	scrollRounds.Observe(float64(rounds))
}

// ObserveSideEffectFailure increments the failure counter for target.
func ObserveSideEffectFailure(target string) {
	Init()
	sideEffectFailuresTotal.WithLabelValues(target).Inc()
}

// IncBrowserSessions increments the open browser sessions gauge.
func IncBrowserSessions() {
	Init()
	browserSessionsActive.Inc()
}

// DecBrowserSessions decrements the open browser sessions gauge.
func DecBrowserSessions() {
	Init()
	browserSessionsActive.Dec()
}

// ObserveSessionsSwept adds n to the swept sessions counter.
func ObserveSessionsSwept(n int) {
	Init()
	sessionsSweptTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for its host's limiter.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}
