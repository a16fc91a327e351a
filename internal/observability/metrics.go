package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	probeDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	drainDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
)

// Metrics holds all Prometheus metric instruments for the agent.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auto-save metrics
	AutoSaveWritesTotal   *prometheus.CounterVec
	AutoSaveFailuresTotal prometheus.Counter

	// Queue metrics
	QueueDepth              *prometheus.GaugeVec
	SubmissionAttemptsTotal *prometheus.CounterVec
	QueueDrainDuration      prometheus.Histogram

	// Network metrics
	NetworkOnline           prometheus.Gauge
	ProbeDuration           prometheus.Histogram
	ProbeFailuresTotal      prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formagent_http_requests_total",
			Help: "Total number of HTTP requests to the agent API.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formagent_http_request_duration_seconds",
			Help:    "Agent API request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		AutoSaveWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formagent_autosave_writes_total",
			Help: "Auto-save snapshot writes by trigger (debounce, interval, manual, flush).",
		}, []string{"trigger"}),
		AutoSaveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formagent_autosave_failures_total",
			Help: "Auto-save writes that failed (quota or I/O).",
		}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "formagent_queue_depth",
			Help: "Current submission queue entries by status.",
		}, []string{"status"}),
		SubmissionAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formagent_submission_attempts_total",
			Help: "Submission send attempts by outcome (success, failure).",
		}, []string{"outcome"}),
		QueueDrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formagent_queue_drain_duration_seconds",
			Help:    "Duration of one queue drain pass.",
			Buckets: drainDurationBuckets,
		}),

		NetworkOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formagent_network_online",
			Help: "1 when the backend is reachable, 0 otherwise.",
		}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formagent_probe_duration_seconds",
			Help:    "Connectivity probe duration in seconds.",
			Buckets: probeDurationBuckets,
		}),
		ProbeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formagent_probe_failures_total",
			Help: "Connectivity probes that failed or timed out.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AutoSaveWritesTotal,
		m.AutoSaveFailuresTotal,
		m.QueueDepth,
		m.SubmissionAttemptsTotal,
		m.QueueDrainDuration,
		m.NetworkOnline,
		m.ProbeDuration,
		m.ProbeFailuresTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and durations labeled by the chi
// route pattern, so path parameters do not explode label cardinality.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
