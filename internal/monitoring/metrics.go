package monitoring

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deal_health"

// Metrics holds application metrics. Prometheus collectors back /metrics;
// the atomic counters back the JSON stats on /health.
type Metrics struct {
	RequestCount int64
	ErrorCount   int64
	StartTime    time.Time

	responseTimes      []time.Duration
	responseTimesMutex sync.RWMutex

	requestCountByStatus map[int]int64
	statusMutex          sync.RWMutex

	registry           *prometheus.Registry
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	scoresCalculated   *prometheus.CounterVec
	scoreDuration      *prometheus.HistogramVec
	alertsCreated      *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	notifyThrottled    prometheus.Counter
	rateLimitDecisions *prometheus.CounterVec
	sourceFetches      *prometheus.CounterVec
	eventsDropped      prometheus.Gauge
}

// NewMetrics creates a metrics instance with its own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		StartTime:            time.Now(),
		responseTimes:        make([]time.Duration, 0, 1000),
		requestCountByStatus: make(map[int]int64),
		registry:             prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		scoresCalculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_calculated_total",
			Help:      "Health scores calculated by entity kind/status.",
		}, []string{"kind", "status"}),
		scoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_duration_seconds",
			Help:      "Time to calculate one health score.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created by type/severity.",
		}, []string{"alert_type", "severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert notifications by channel/outcome.",
		}, []string{"channel", "outcome"}),
		notifyThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_throttled_total",
			Help:      "Alert notifications skipped by the per-owner throttle.",
		}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by scope/backend/outcome.",
		}, []string{"scope", "backend", "outcome"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Interaction source fetches by source/outcome.",
		}, []string{"source", "outcome"}),
		eventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events dropped by the in-process bus since start.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.scoresCalculated,
		m.scoreDuration,
		m.alertsCreated,
		m.notifications,
		m.notifyThrottled,
		m.rateLimitDecisions,
		m.sourceFetches,
		m.eventsDropped,
	)
	return m
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// ObserveHTTP records one finished request
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.recordResponseTime(duration)
	m.recordRequestByStatus(status)
}

// ObserveScore records one calculated health score
func (m *Metrics) ObserveScore(kind, status string, duration time.Duration) {
	m.scoresCalculated.WithLabelValues(kind, status).Inc()
	m.scoreDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveAlert records one created alert
func (m *Metrics) ObserveAlert(alertType, severity string) {
	m.alertsCreated.WithLabelValues(alertType, severity).Inc()
}

// ObserveNotification records one delivery attempt on a channel
func (m *Metrics) ObserveNotification(channel string, success bool) {
	m.notifications.WithLabelValues(channel, outcome(success)).Inc()
}

// ObserveNotificationThrottled records a notification held back by the throttle
func (m *Metrics) ObserveNotificationThrottled() {
	m.notifyThrottled.Inc()
}

// ObserveRateLimit records a rate limiter decision
func (m *Metrics) ObserveRateLimit(scope, backend string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	m.rateLimitDecisions.WithLabelValues(scope, backend, result).Inc()
}

// RecordRequest records an interaction source fetch
func (m *Metrics) RecordRequest(source string, success bool) {
	m.sourceFetches.WithLabelValues(source, outcome(success)).Inc()
}

// SetEventsDropped publishes the bus drop counter
func (m *Metrics) SetEventsDropped(n uint64) {
	m.eventsDropped.Set(float64(n))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// recordResponseTime keeps the last 1000 samples for percentiles
func (m *Metrics) recordResponseTime(duration time.Duration) {
	m.responseTimesMutex.Lock()
	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
	m.responseTimesMutex.Unlock()
}

func (m *Metrics) recordRequestByStatus(statusCode int) {
	m.statusMutex.Lock()
	defer m.statusMutex.Unlock()
	m.requestCountByStatus[statusCode]++
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.responseTimesMutex.RLock()
	defer m.responseTimesMutex.RUnlock()

	if len(m.responseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.responseTimes))
	copy(times, m.responseTimes)
	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.statusMutex.RLock()
	defer m.statusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.requestCountByStatus))
	for code, count := range m.requestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"total_requests":           requests,
		"error_count":              errors,
		"error_rate_percent":       errorRate,
		"start_time":               m.StartTime.Format(time.RFC3339),
		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1e6,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1e6,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1e6,
		"status_code_distribution": m.GetStatusCodeDistribution(),
	}
}
