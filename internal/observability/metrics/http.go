package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics holds the server and retrieval-pipeline instruments.
// It doubles as the pipeline stage observer wired into the chat use case.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageDuration      *prometheus.HistogramVec
	stageFallbackTotal *prometheus.CounterVec
	rerankPathTotal    *prometheus.CounterVec

	chatStreamsTotal   *prometheus.CounterVec
	chatTokensTotal    *prometheus.CounterVec
	chatSourceCount    *prometheus.HistogramVec
	indexInvalidations *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pchat",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pchat",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each retrieval pipeline stage in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "pipeline",
			Name:      "stage_fallback_total",
			Help:      "Total pipeline stages that degraded to a fallback.",
		},
		[]string{"service", "stage", "reason"},
	)
	rerankPathTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "pipeline",
			Name:      "rerank_path_total",
			Help:      "Total rerank invocations by the path that produced the order.",
		},
		[]string{"service", "path"},
	)
	chatStreamsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "chat",
			Name:      "streams_total",
			Help:      "Total chat streams by terminal status.",
		},
		[]string{"service", "status"},
	)
	chatTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "chat",
			Name:      "tokens_streamed_total",
			Help:      "Total tokens streamed to clients.",
		},
		[]string{"service"},
	)
	chatSourceCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pchat",
			Subsystem: "chat",
			Name:      "sources_returned",
			Help:      "Distribution of cited sources per completed chat stream.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	indexInvalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pchat",
			Subsystem: "index",
			Name:      "invalidations_total",
			Help:      "Total lexical index invalidations by trigger.",
		},
		[]string{"service", "trigger"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		stageDuration,
		stageFallbackTotal,
		rerankPathTotal,
		chatStreamsTotal,
		chatTokensTotal,
		chatSourceCount,
		indexInvalidations,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		stageDuration:      stageDuration,
		stageFallbackTotal: stageFallbackTotal,
		rerankPathTotal:    rerankPathTotal,
		chatStreamsTotal:   chatStreamsTotal,
		chatTokensTotal:    chatTokensTotal,
		chatSourceCount:    chatSourceCount,
		indexInvalidations: indexInvalidations,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/personas/"):
		return "/api/personas/{persona_id}"
	default:
		return path
	}
}

// ObserveStage records how long a pipeline stage took.
func (m *HTTPServerMetrics) ObserveStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(seconds)
}

// StageFallback records a stage that degraded instead of failing the stream.
func (m *HTTPServerMetrics) StageFallback(stage, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.stageFallbackTotal.WithLabelValues(m.service, stage, reason).Inc()
}

// RerankPath records which reranking tier produced the final order.
func (m *HTTPServerMetrics) RerankPath(path string) {
	if path == "" {
		path = "unknown"
	}
	m.rerankPathTotal.WithLabelValues(m.service, path).Inc()
}

func (m *HTTPServerMetrics) RecordChatStream(status string, tokens, sources int) {
	if status == "" {
		status = "unknown"
	}
	m.chatStreamsTotal.WithLabelValues(m.service, status).Inc()
	if tokens > 0 {
		m.chatTokensTotal.WithLabelValues(m.service).Add(float64(tokens))
	}
	m.chatSourceCount.WithLabelValues(m.service).Observe(float64(sources))
}

func (m *HTTPServerMetrics) RecordIndexInvalidation(trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	m.indexInvalidations.WithLabelValues(m.service, trigger).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}
