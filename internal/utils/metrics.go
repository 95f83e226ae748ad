// internal/utils/metrics.go
package utils

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "adaptbrain"

// MetricsCollector owns the prometheus registry and the application metric vectors
type MetricsCollector struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	generations   *prometheus.CounterVec
	errors        *prometheus.CounterVec
	inFlight      prometheus.Gauge
	activeSockets prometheus.Gauge

	// snapshot mirrors the counters so the periodic report and tests can read them
	mu       sync.Mutex
	snapshot map[string]int64
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector builds a collector on its own registry
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	m := &MetricsCollector{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_requests_total",
			Help:      "HTTP requests by route, method and status class.",
		}, []string{"route", "method", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_requests_total",
			Help:      "Model calls by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the provider.",
		}, []string{"provider"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Model call latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"operation"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segment_generations_total",
			Help:      "Segment generations by kind (append/regenerate) and outcome.",
		}, []string{"kind", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors by type and component.",
		}, []string{"type", "component"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "llm_in_flight",
			Help:      "Model calls currently running.",
		}),
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_connections",
			Help:      "Open chat websocket connections.",
		}),
		snapshot: make(map[string]int64),
	}

	reg.MustRegister(
		m.apiRequests, m.apiLatency,
		m.llmRequests, m.llmTokens, m.llmLatency,
		m.generations, m.errors,
		m.inFlight, m.activeSockets,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MetricsCollector) bump(name string, delta int64) {
	m.mu.Lock()
	m.snapshot[name] += delta
	m.mu.Unlock()
}

// GetCounterValue returns the mirrored value of a counter key
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot[name]
}

// GetMetrics returns a copy of all mirrored counters
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out
}

// RecordAPIRequest records metrics for an API request
func (m *MetricsCollector) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	class := strconv.Itoa(statusCode/100) + "xx"
	m.apiRequests.WithLabelValues(route, method, class).Inc()
	m.apiLatency.WithLabelValues(route).Observe(duration.Seconds())
	m.bump("api_requests_total", 1)
	m.bump("api_responses_"+class, 1)
}

// TrackLLMCall marks a model call as started and returns the function that finishes it
func (m *MetricsCollector) TrackLLMCall(provider, operation string) func(tokens int, err error) {
	start := time.Now()
	m.inFlight.Inc()
	return func(tokens int, err error) {
		m.inFlight.Dec()
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.llmRequests.WithLabelValues(provider, operation, outcome).Inc()
		m.llmLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if tokens > 0 {
			m.llmTokens.WithLabelValues(provider).Add(float64(tokens))
			m.bump("llm_tokens_total", int64(tokens))
		}
		m.bump("llm_requests_total", 1)
		m.bump("llm_requests_"+outcome, 1)
	}
}

// RecordGeneration records a segment generation outcome
func (m *MetricsCollector) RecordGeneration(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.generations.WithLabelValues(kind, outcome).Inc()
	m.bump("generations_"+kind+"_"+outcome, 1)
}

// RecordError records an error metric
func (m *MetricsCollector) RecordError(errorType, component string) {
	m.errors.WithLabelValues(errorType, component).Inc()
	m.bump("errors_total", 1)
}

// SocketOpened / SocketClosed track websocket connections
func (m *MetricsCollector) SocketOpened() { m.activeSockets.Inc() }
func (m *MetricsCollector) SocketClosed() { m.activeSockets.Dec() }

// StartMetricsCollection periodically logs a counter summary until ctx is done
func (m *MetricsCollector) StartMetricsCollection(ctx context.Context, every time.Duration) {
	logger := GetLogger()
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": m.GetMetrics(),
				})
			}
		}
	}()
}
