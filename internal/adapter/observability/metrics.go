package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	RunsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runs_enqueued_total",
			Help: "Total number of scoring runs enqueued",
		},
	)
	RunsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runs_completed_total",
			Help: "Total number of scoring runs completed",
		},
	)
	CandidatesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidates_failed_total",
			Help: "Total number of candidates failed, by pipeline stage",
		},
		[]string{"stage"},
	)
	CombinedScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "candidate_combined_score",
			Help:    "Distribution of combined candidate scores (0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ExtractionCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_cache_lookups_total",
			Help: "Extraction cache lookups by result",
		},
		[]string{"result"},
	)
)

// InitMetrics registers all collectors; call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(RunsEnqueuedTotal)
	prometheus.MustRegister(RunsCompletedTotal)
	prometheus.MustRegister(CandidatesFailedTotal)
	prometheus.MustRegister(CombinedScoreHistogram)
	prometheus.MustRegister(ExtractionCacheHitsTotal)
}

// EnqueueRun records a run dispatched to the queue.
func EnqueueRun() { RunsEnqueuedTotal.Inc() }

// CompleteRun records a run reaching a completed terminal state.
func CompleteRun() { RunsCompletedTotal.Inc() }

// ScoreCandidate records a fully scored candidate.
func ScoreCandidate(combined int) { CombinedScoreHistogram.Observe(float64(combined)) }

// FailCandidate records a per-candidate failure at the given stage.
func FailCandidate(stage string) { CandidatesFailedTotal.WithLabelValues(stage).Inc() }

// ObserveLLMRequest records one outbound LLM call.
func ObserveLLMRequest(operation, outcome string, dur time.Duration) {
	LLMRequestsTotal.WithLabelValues(operation, outcome).Inc()
	LLMRequestDuration.WithLabelValues(operation).Observe(dur.Seconds())
}

// CacheLookup records an extraction cache hit or miss.
func CacheLookup(hit bool) {
	if hit {
		ExtractionCacheHitsTotal.WithLabelValues("hit").Inc()
		return
	}
	ExtractionCacheHitsTotal.WithLabelValues("miss").Inc()
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
