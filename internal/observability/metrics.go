package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Iteration metrics
	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_iterations_total",
		Help: "Total pipeline iterations by outcome",
	}, []string{"outcome"})

	iterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "story_pipeline_iteration_duration_seconds",
		Help:    "Duration of a pipeline iteration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	topicsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_topics_selected_total",
		Help: "Topics selected for processing by priority class",
	}, []string{"class"})

	storiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_stories_created_total",
		Help: "Total stories persisted",
	}, []string{"class"})

	// Text generation metrics
	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_generation_requests_total",
		Help: "Total number of text generation requests",
	}, []string{"status"})

	generationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "story_pipeline_generation_latency_seconds",
		Help:    "Text generation latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Voice synthesis metrics
	synthesisJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_synthesis_jobs_total",
		Help: "Total number of per-line synthesis jobs",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "story_pipeline_synthesis_batch_seconds",
		Help:    "Wall time of a synthesis fan-out batch in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Audit metrics
	auditRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_audit_removed_total",
		Help: "Story directories removed by the audit",
	}, []string{"reason"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "story_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_pipeline_audio_bytes_total",
		Help: "Total synthesized audio bytes written",
	}, []string{"backend"})
)

// Metrics tracks metrics for a single pipeline iteration
type Metrics struct {
	iterationID         string
	startTime           time.Time
	generationStartTime time.Time
	synthesisStartTime  time.Time
	mu                  sync.Mutex
}

// NewIterationMetrics creates a new metrics tracker for an iteration
func NewIterationMetrics(iterationID string) *Metrics {
	return &Metrics{
		iterationID: iterationID,
		startTime:   time.Now(),
	}
}

// RecordIterationEnd records the outcome and duration of the iteration
func (m *Metrics) RecordIterationEnd(outcome string) {
	iterationsTotal.WithLabelValues(outcome).Inc()
	iterationDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTopicSelected records the class of the topic picked this iteration
func (m *Metrics) RecordTopicSelected(class string) {
	topicsSelected.WithLabelValues(class).Inc()
}

// RecordStoryCreated records a persisted story
func (m *Metrics) RecordStoryCreated(class string) {
	storiesCreated.WithLabelValues(class).Inc()
}

// RecordGenerationStart records the start of text generation
func (m *Metrics) RecordGenerationStart() {
	m.mu.Lock()
	m.generationStartTime = time.Now()
	m.mu.Unlock()
}

// RecordGenerationEnd records the end of text generation
func (m *Metrics) RecordGenerationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.generationStartTime.IsZero() {
		generationLatency.Observe(time.Since(m.generationStartTime).Seconds())
	}
	generationRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSynthesisStart records the start of a synthesis batch
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records per-job outcomes of a synthesis batch
func (m *Metrics) RecordSynthesisEnd(succeeded, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStartTime).Seconds())
	}
	synthesisJobs.WithLabelValues("success").Add(float64(succeeded))
	synthesisJobs.WithLabelValues("error").Add(float64(failed))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAuditRemoved records a story directory removed by the audit
func RecordAuditRemoved(reason string) {
	auditRemoved.WithLabelValues(reason).Inc()
}

// RecordAudioBytes records synthesized audio bytes written by a backend
func RecordAudioBytes(backend string, bytes int64) {
	audioBytesWritten.WithLabelValues(backend).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
