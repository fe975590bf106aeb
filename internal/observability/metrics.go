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

	ApplicationsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_created_total",
			Help: "Total number of credit applications created by country",
		},
		[]string{"country"},
	)
	ApplicationsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_processed_total",
			Help: "Total number of credit applications processed by country and final status",
		},
		[]string{"country", "status"},
	)

	WorkerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Total number of worker tasks by task name and outcome",
		},
		[]string{"task_name", "status"},
	)
	WorkerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_task_duration_seconds",
			Help:    "Worker task duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task_name"},
	)
	WorkerTasksInProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_tasks_in_progress",
			Help: "Number of worker tasks currently in progress",
		},
		[]string{"task_name"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"task_name"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of banking provider requests by country, provider and outcome",
		},
		[]string{"country", "provider", "status"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Banking provider request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"country", "provider"},
	)
	// ProviderCircuitBreakerState encodes the breaker state as
	// 0=closed, 1=open, 2=half-open.
	ProviderCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_circuit_breaker_state",
			Help: "Circuit breaker state per country and provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"country", "provider"},
	)

	RiskScoreDistribution = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_score_distribution",
			Help:    "Distribution of computed risk scores (0-100)",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of inbound webhook events by outcome",
		},
		[]string{"status"},
	)

	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ApplicationsCreatedTotal)
	prometheus.MustRegister(ApplicationsProcessedTotal)
	prometheus.MustRegister(WorkerTasksTotal)
	prometheus.MustRegister(WorkerTaskDuration)
	prometheus.MustRegister(WorkerTasksInProgress)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(ProviderCircuitBreakerState)
	prometheus.MustRegister(RiskScoreDistribution)
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(WebSocketConnections)
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
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(taskName string) {
	JobsEnqueuedTotal.WithLabelValues(taskName).Inc()
}

func StartTask(taskName string) {
	WorkerTasksInProgress.WithLabelValues(taskName).Inc()
}

func CompleteTask(taskName string, dur time.Duration) {
	WorkerTasksInProgress.WithLabelValues(taskName).Dec()
	WorkerTasksTotal.WithLabelValues(taskName, "success").Inc()
	WorkerTaskDuration.WithLabelValues(taskName).Observe(dur.Seconds())
}

func FailTask(taskName string, dur time.Duration) {
	WorkerTasksInProgress.WithLabelValues(taskName).Dec()
	WorkerTasksTotal.WithLabelValues(taskName, "failure").Inc()
	WorkerTaskDuration.WithLabelValues(taskName).Observe(dur.Seconds())
}

// RecordProviderRequest records the outcome of a banking provider call.
// status is one of success, failure, timeout.
func RecordProviderRequest(country, provider, status string, dur time.Duration) {
	ProviderRequestsTotal.WithLabelValues(country, provider, status).Inc()
	ProviderRequestDuration.WithLabelValues(country, provider).Observe(dur.Seconds())
}

// SetCircuitBreakerState updates the breaker state gauge for a provider.
func SetCircuitBreakerState(country, provider string, state float64) {
	ProviderCircuitBreakerState.WithLabelValues(country, provider).Set(state)
}

// ObserveRiskScore records the computed risk score of a processed application.
func ObserveRiskScore(score float64) {
	if score >= 0 && score <= 100 {
		RiskScoreDistribution.Observe(score)
	}
}
