package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for sif.
type Metrics struct {
	config MetricsConfig

	// Job metrics
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	// Step metrics
	stepTransitions *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	fingerprintHits *prometheus.CounterVec
	compensations   *prometheus.CounterVec

	// Asset and composition metrics
	syncActions        *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeJobs prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		jobsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of provisioning jobs started",
			},
			[]string{"policy"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of provisioning jobs completed",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		stepTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_transitions_total",
				Help:      "Total number of step status transitions",
			},
			[]string{"kind", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step forward actions in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "status"},
		),
		fingerprintHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fingerprint_hits_total",
				Help:      "Total number of steps satisfied by a recorded fingerprint",
			},
			[]string{"kind"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensation actions by outcome",
			},
			[]string{"kind", "outcome"},
		),

		syncActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_actions_total",
				Help:      "Total number of asset sync actions",
			},
			[]string{"library", "action"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of composition validation issues",
			},
			[]string{"code"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by code",
			},
			[]string{"code"},
		),

		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Current number of running jobs",
			},
		),
	}

	registry.MustRegister(
		m.jobsStarted,
		m.jobsCompleted,
		m.jobDuration,
		m.stepTransitions,
		m.stepDuration,
		m.fingerprintHits,
		m.compensations,
		m.syncActions,
		m.validationFailures,
		m.errorsByClass,
		m.errorsByCode,
		m.activeJobs,
	)

	return m, nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Job Metrics

// RecordJobStarted increments the counter for started jobs.
func (m *Metrics) RecordJobStarted(policy string) {
	if m.jobsStarted == nil {
		return
	}
	m.jobsStarted.WithLabelValues(policy).Inc()
	m.activeJobs.Inc()
}

// RecordJobCompleted records a completed job with its status and duration.
func (m *Metrics) RecordJobCompleted(status string, duration time.Duration) {
	if m.jobsCompleted == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeJobs.Dec()
}

// Step Metrics

// RecordStepTransition counts a step entering status.
func (m *Metrics) RecordStepTransition(kind, status string) {
	if m.stepTransitions == nil {
		return
	}
	m.stepTransitions.WithLabelValues(kind, status).Inc()
}

// RecordStepDuration observes how long a step ran before reaching status.
func (m *Metrics) RecordStepDuration(kind, status string, duration time.Duration) {
	if m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordFingerprintHit counts a step reused from a fingerprint.
func (m *Metrics) RecordFingerprintHit(kind string) {
	if m.fingerprintHits == nil {
		return
	}
	m.fingerprintHits.WithLabelValues(kind).Inc()
}

// RecordCompensation counts a compensation outcome (started, compensated).
func (m *Metrics) RecordCompensation(kind, outcome string) {
	if m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(kind, outcome).Inc()
}

// Asset and Composition Metrics

// RecordSyncAction counts one per-asset sync decision.
func (m *Metrics) RecordSyncAction(libraryID, action string) {
	if m.syncActions == nil {
		return
	}
	m.syncActions.WithLabelValues(libraryID, action).Inc()
}

// RecordValidationFailure counts a validation issue by its code.
func (m *Metrics) RecordValidationFailure(code string) {
	if m.validationFailures == nil {
		return
	}
	m.validationFailures.WithLabelValues(code).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server is nil when metrics are disabled or no listen address is set.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error(fmt.Sprintf("metrics server on %s stopped", m.config.ListenAddress))
		}
	}()

	return server
}
