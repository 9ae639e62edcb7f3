// Package metrics exposes Prometheus collectors for the watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchRetriesTotal          *prometheus.CounterVec
	failuresTotal              *prometheus.CounterVec
	changesTotal               prometheus.Counter
	runsTotal                  *prometheus.CounterVec
	inFlightFetches            prometheus.Gauge
	paceDelaySeconds           *prometheus.HistogramVec
	eventsTracked              prometheus.Gauge
	eventsSoldOut              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once  sync.Once
	ready bool
)

// Init registers the collectors. Safe to call more than once; helpers
// are no-ops until it runs.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_fetches_total",
				Help: "Completed fetch attempts, labeled by site, transport and outcome.",
			},
			[]string{"site", "transport", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketwatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by transport.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"transport"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_fetch_retries_total",
				Help: "Retried fetch attempts, labeled by failure reason.",
			},
			[]string{"reason"},
		)

		failuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_failures_total",
				Help: "URLs whose attempts were exhausted, labeled by final reason.",
			},
			[]string{"reason"},
		)

		changesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ticketwatch_changes_total",
				Help: "Status changes detected across runs.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_runs_total",
				Help: "Engine runs, labeled by result.",
			},
			[]string{"result"},
		)

		inFlightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticketwatch_in_flight_fetches",
				Help: "Fetches currently holding a concurrency slot.",
			},
		)

		paceDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketwatch_pace_delay_seconds",
				Help:    "Histogram of per-host pacing waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		eventsTracked = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticketwatch_events_tracked",
				Help: "Events present in the state file after the last run.",
			},
		)

		eventsSoldOut = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticketwatch_events_sold_out",
				Help: "Tracked events currently marked sold out.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_http_requests_total",
				Help: "Ops server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketwatch_http_request_duration_seconds",
				Help:    "Histogram of ops server latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		ready = true
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label, "unknown"
// when unparseable.
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

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed fetch attempt.
func ObserveFetch(site, transport string, err error, duration time.Duration) {
	if !ready {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if transport == "" {
		transport = "unknown"
	}
	fetchesTotal.WithLabelValues(SanitizeSite(site), transport, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(transport).Observe(duration.Seconds())
}

// ObserveRetry records a retried attempt.
func ObserveRetry(reason string) {
	if !ready {
		return
	}
	fetchRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveFailure records a URL whose attempts were exhausted.
func ObserveFailure(reason string) {
	if !ready {
		return
	}
	failuresTotal.WithLabelValues(reason).Inc()
}

// AddChanges records detected status changes.
func AddChanges(n int) {
	if !ready || n <= 0 {
		return
	}
	changesTotal.Add(float64(n))
}

// ObserveRun records a finished engine run.
func ObserveRun(result string) {
	if !ready {
		return
	}
	runsTotal.WithLabelValues(result).Inc()
}

// IncInFlight marks a fetch occupying a concurrency slot.
func IncInFlight() {
	if !ready {
		return
	}
	inFlightFetches.Inc()
}

// DecInFlight releases the slot.
func DecInFlight() {
	if !ready {
		return
	}
	inFlightFetches.Dec()
}

// ObservePaceDelay records a pacing wait for one host.
func ObservePaceDelay(site string, duration time.Duration) {
	if !ready {
		return
	}
	paceDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// SetTracked publishes state-size gauges after a run.
func SetTracked(total, soldOut int) {
	if !ready {
		return
	}
	eventsTracked.Set(float64(total))
	eventsSoldOut.Set(float64(soldOut))
}
