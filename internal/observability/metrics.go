package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcription_gateway_active_sessions",
		Help: "Number of active transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_sessions_total",
		Help: "Total number of sessions admitted",
	})

	rejectedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_sessions_rejected_total",
		Help: "Total number of connections rejected at admission",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcription_gateway_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Segmentation metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_segments_total",
		Help: "Total number of segments by how they were closed",
	}, []string{"reason"}) // reason: "silence", "cap", "flush", "dropped"

	// Inference metrics
	inferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_inference_requests_total",
		Help: "Total number of inference submissions",
	}, []string{"status"})

	inferenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcription_gateway_inference_latency_seconds",
		Help:    "Time from segment submission to final hypothesis",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Emission metrics
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_events_emitted_total",
		Help: "Total transcription events emitted to clients",
	}, []string{"kind"}) // kind: "partial", "final", "control"

	// Diarization metrics
	diarizationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_diarization_requests_total",
		Help: "Total number of diarization lookups",
	}, []string{"status"})

	// Audio metrics
	audioBytesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_audio_bytes_total",
		Help: "Total audio bytes ingested from clients",
	})

	bufferOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_buffer_overflows_total",
		Help: "Sessions terminated because the frame buffer backlog cap was exceeded",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcription_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for a session and records admission
func NewSessionMetrics(sessionID string) *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes ingested
func (m *SessionMetrics) RecordAudioBytes(n int64) {
	audioBytesIngested.Add(float64(n))
}

// RecordSegment records a segment closed for the given reason
func (m *SessionMetrics) RecordSegment(reason string) {
	segmentsTotal.WithLabelValues(reason).Inc()
}

// RecordInference records an inference round trip
func (m *SessionMetrics) RecordInference(latency time.Duration, success bool) {
	inferenceLatency.Observe(latency.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	inferenceRequests.WithLabelValues(status).Inc()
}

// RecordEvent records an emitted event
func (m *SessionMetrics) RecordEvent(kind string) {
	eventsEmitted.WithLabelValues(kind).Inc()
}

// RecordDiarization records a diarization lookup
func (m *SessionMetrics) RecordDiarization(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	diarizationRequests.WithLabelValues(status).Inc()
}

// RecordOverflow records a frame buffer overflow termination
func (m *SessionMetrics) RecordOverflow() {
	bufferOverflows.Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordRejection records a connection rejected at admission
func RecordRejection() {
	rejectedSessions.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
