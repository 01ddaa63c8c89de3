package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision chain metrics
	DecisionsTotal      *prometheus.CounterVec
	DecisionDuration    *prometheus.HistogramVec
	LookupFailuresTotal *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitBuckets         prometheus.Gauge

	// Audit metrics
	AuditWritesTotal *prometheus.CounterVec
	AuditQueueDepth  prometheus.Gauge

	// Cache metrics
	SubscriptionCacheTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Enforcement decisions by outcome and the stage that produced them",
			},
			[]string{"outcome", "stage"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_decision_duration_seconds",
				Help:    "Time spent producing an enforcement decision",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),
		LookupFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_lookup_failures_total",
				Help: "Authority and entitlement lookups that failed or timed out",
			},
			[]string{"source"},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_ratelimit_rejections_total",
				Help: "Actions rejected by the rate limiter",
			},
			[]string{"scope"},
		),
		RateLimitBuckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gate_ratelimit_buckets",
				Help: "Live rate limit buckets",
			},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_audit_writes_total",
				Help: "Audit sink writes by mode and status",
			},
			[]string{"mode", "status"},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gate_audit_queue_depth",
				Help: "Audit records waiting for a worker",
			},
		),

		SubscriptionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_subscription_cache_total",
				Help: "Subscription cache lookups by result",
			},
			[]string{"result"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.LookupFailuresTotal,
		m.RateLimitRejectionsTotal,
		m.RateLimitBuckets,
		m.AuditWritesTotal,
		m.AuditQueueDepth,
		m.SubscriptionCacheTotal,
	)

	return m
}

// ObserveDecision records a terminal decision
func (m *Metrics) ObserveDecision(allowed bool, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.DecisionsTotal.WithLabelValues(outcome, stage).Inc()
	m.DecisionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// LookupFailed counts a failed lookup against its source
func (m *Metrics) LookupFailed(source string) {
	if m == nil {
		return
	}
	m.LookupFailuresTotal.WithLabelValues(source).Inc()
}

// RateLimited counts a rejection for the scope
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// SetRateLimitBuckets publishes the number of live buckets
func (m *Metrics) SetRateLimitBuckets(n int) {
	if m == nil {
		return
	}
	m.RateLimitBuckets.Set(float64(n))
}

// AuditWrite counts an audit sink write
func (m *Metrics) AuditWrite(mode string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.AuditWritesTotal.WithLabelValues(mode, status).Inc()
}

// SetAuditQueueDepth publishes the audit buffer length
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}

// SubscriptionCache counts a cache hit or miss
func (m *Metrics) SubscriptionCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SubscriptionCacheTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests, labelled by chi route pattern
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
