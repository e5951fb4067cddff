package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_sessions_started_total",
			Help: "Total number of quiz sessions started",
		},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_sessions_finished_total",
			Help: "Quiz sessions that left the in-progress state, by how they ended",
		},
		[]string{"reason"},
	)

	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Scored answers by outcome",
		},
		[]string{"outcome"},
	)

	SinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_sink_failures_total",
			Help: "Failed calls to answer and score sinks",
		},
		[]string{"sink"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)
)

// Init registers the collectors with the default registry. Call it once at startup.
func Init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(SessionsFinished)
	prometheus.MustRegister(AnswersTotal)
	prometheus.MustRegister(SinkFailures)
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
}

// Outcome labels an answer for AnswersTotal.
func Outcome(correct, timedOut bool) string {
	switch {
	case timedOut:
		return "timeout"
	case correct:
		return "correct"
	default:
		return "incorrect"
	}
}

// MetricsMiddleware records request counts and latency keyed by chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
