// Package metrics defines the Prometheus collectors and the /metrics handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "shopmind"

	providerLabel   = "provider"
	outcomeLabel    = "outcome"
	entityTypeLabel = "entity_type"
	actionTypeLabel = "action_type"
	statusLabel     = "status"
	nameLabel       = "name"
	scopeLabel      = "scope"
)

var llmCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_calls_total",
		Help:      "LLM calls partitioned by provider and outcome.",
	},
	[]string{providerLabel, outcomeLabel},
)

var llmCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_call_duration_milliseconds",
		Help:      "Wall time of LLM calls.",
		Buckets:   []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	},
	[]string{providerLabel},
)

var jobBatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_batches_total",
		Help:      "Processed analysis job batches partitioned by outcome.",
	},
	[]string{outcomeLabel},
)

var jobEntitiesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_entities_total",
		Help:      "Entities analyzed by jobs partitioned by entity type and outcome.",
	},
	[]string{entityTypeLabel, outcomeLabel},
)

var actionTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_transitions_total",
		Help:      "Action status transitions partitioned by action type and new status.",
	},
	[]string{actionTypeLabel, statusLabel},
)

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per name: 0 closed, 1 half-open, 2 open.",
	},
	[]string{nameLabel},
)

var rateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limiter partitioned by scope.",
	},
	[]string{scopeLabel},
)

var httpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests partitioned by status code, method and route.",
	},
	[]string{"code", "method", "path"},
)

var httpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "Time spent on the request partitioned by status code, method and route.",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	},
	[]string{"code", "method", "path"},
)

func ObserveLLMCall(provider, outcome string, d time.Duration) {
	llmCallsTotal.WithLabelValues(provider, outcome).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(float64(d.Milliseconds()))
}

func IncJobBatch(outcome string) {
	jobBatchesTotal.WithLabelValues(outcome).Inc()
}

func IncJobEntity(entityType, outcome string) {
	jobEntitiesTotal.WithLabelValues(entityType, outcome).Inc()
}

func IncActionTransition(kind models.ActionType, status models.ActionStatus) {
	actionTransitionsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func SetBreakerState(name string, state models.CircuitState) {
	var v float64
	switch state {
	case models.CircuitHalfOpen:
		v = 1
	case models.CircuitOpen:
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}

func IncRateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rp := rctx.RoutePattern()
			code := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(code, r.Method, rp).Inc()
			httpRequestDuration.WithLabelValues(code, r.Method, rp).Observe(float64(time.Since(start).Milliseconds()))
		}
	}
	return http.HandlerFunc(fn)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(
		llmCallsTotal,
		llmCallDuration,
		jobBatchesTotal,
		jobEntitiesTotal,
		actionTransitionsTotal,
		breakerState,
		rateLimitedTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}
