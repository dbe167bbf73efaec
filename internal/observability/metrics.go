// Package observability define las métricas Prometheus del streaming de respuestas.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "course_chat"
	streamingSubsystem = "streaming"
)

// Endpoint etiqueta el origen de una métrica.
type Endpoint string

const EndpointChat Endpoint = "chat"

// ErrorCode clasifica los errores reportados en ErrorsTotal.
type ErrorCode string

const (
	ErrorCodeValidation  ErrorCode = "validation"
	ErrorCodeRateLimited ErrorCode = "rate_limited"
	ErrorCodeGateway     ErrorCode = "gateway"
	ErrorCodeMidStream   ErrorCode = "mid_stream"
	ErrorCodeDisconnect  ErrorCode = "client_disconnect"
)

// StreamingMetrics agrupa contadores, histogramas y gauges del endpoint de chat.
// Todos los métodos aceptan receptor nil.
type StreamingMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	FragmentsTotal          *prometheus.CounterVec
	TimeToFirstTokenSeconds *prometheus.HistogramVec
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
}

// NewStreamingMetrics registra las métricas en reg. En producción se pasa
// prometheus.DefaultRegisterer; los tests usan un registro propio.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		FragmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "fragments_total",
				Help:      "Total number of text fragments written to clients",
			},
			[]string{"endpoint"},
		),
		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Latency between request start and the first fragment",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total duration of streaming responses",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of streaming responses currently in flight",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total number of streaming errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *StreamingMetrics) RecordFragment(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *StreamingMetrics) RecordTimeToFirstToken(endpoint Endpoint, d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(d.Seconds())
}

func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded cierra el ciclo abierto por StreamStarted.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(d.Seconds())
}
