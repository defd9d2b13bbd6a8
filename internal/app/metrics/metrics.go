// Package metrics exposes Prometheus collectors for the donation engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "celebrate",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "celebrate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	donations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "donations",
			Name:      "submissions_total",
			Help:      "Total donation submissions by outcome.",
		},
		[]string{"outcome"},
	)

	limitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "donations",
			Name:      "limit_rejections_total",
			Help:      "Donations rejected by the limit engine, by limit type.",
		},
		[]string{"limit_type"},
	)

	tipTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "donations",
			Name:      "tip_truncations_total",
			Help:      "Tips truncated to zero by the PAC limit.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "pledges",
			Name:      "transitions_total",
			Help:      "Pledge status transitions applied.",
		},
		[]string{"from", "to"},
	)

	defunctedPledges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celebrate",
			Subsystem: "pledges",
			Name:      "defuncted_total",
			Help:      "Pledges aged out by session end.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		donations,
		limitRejections,
		tipTruncations,
		transitions,
		defunctedPledges,
	)
}

// Handler serves the metrics endpoint for the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// DonationApproved records an accepted submission.
func DonationApproved() { donations.WithLabelValues("approved").Inc() }

// DonationRejected records a limit rejection.
func DonationRejected(limitType string) {
	donations.WithLabelValues("rejected").Inc()
	limitRejections.WithLabelValues(limitType).Inc()
}

// DonationReplayed records an idempotent replay that returned the original
// pledge without re-counting.
func DonationReplayed() { donations.WithLabelValues("replayed").Inc() }

// TipTruncated records a tip zeroed by the PAC ceiling.
func TipTruncated() { tipTruncations.Inc() }

// TransitionApplied records a status transition.
func TransitionApplied(from, to string) { transitions.WithLabelValues(from, to).Inc() }

// PledgeDefuncted records one pledge aged out by a session end.
func PledgeDefuncted() { defunctedPledges.Inc() }

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments a handler with request counters and latency
// histograms.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
