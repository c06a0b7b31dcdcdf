// Package metrics provides Prometheus metrics for the detection pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes recorded by the queue.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// PipelineMetrics holds the pipeline collectors. A nil *PipelineMetrics is
// valid and records nothing.
type PipelineMetrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      prometheus.Histogram
	QueueDepth        prometheus.Gauge
	TasksInFlight     prometheus.Gauge
	ImagesEnsured     *prometheus.CounterVec
	DetectionsTotal   prometheus.Counter
	AlertsTotal       *prometheus.CounterVec
	SagaFailuresTotal *prometheus.CounterVec
	AnalysisRuns      *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.init()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) init() {
	m.TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "queue",
		Name:      "tasks_total",
		Help:      "Image processing task attempts by outcome.",
	}, []string{"outcome"})
	m.TaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "minewatch",
		Subsystem: "queue",
		Name:      "task_duration_seconds",
		Help:      "Duration of image processing attempts.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minewatch",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Tasks waiting for a worker.",
	})
	m.TasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minewatch",
		Subsystem: "queue",
		Name:      "in_flight",
		Help:      "Tasks currently executing.",
	})
	m.ImagesEnsured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "ingestion",
		Name:      "images_total",
		Help:      "Ensure calls by resulting action.",
	}, []string{"action"})
	m.DetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "detection",
		Name:      "detections_total",
		Help:      "Detections created.",
	})
	m.AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "detection",
		Name:      "alerts_total",
		Help:      "Alerts generated by severity.",
	}, []string{"severity"})
	m.SagaFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "detection",
		Name:      "downstream_failures_total",
		Help:      "Failed alert, risk or investigation creation steps.",
	}, []string{"step"})
	m.AnalysisRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minewatch",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Analysis runs by result.",
	}, []string{"result"})
	m.AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "minewatch",
		Subsystem: "analysis",
		Name:      "run_duration_seconds",
		Help:      "Duration of analysis runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.TasksTotal.Describe(ch)
	m.TaskDuration.Describe(ch)
	m.QueueDepth.Describe(ch)
	m.TasksInFlight.Describe(ch)
	m.ImagesEnsured.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	m.AlertsTotal.Describe(ch)
	m.SagaFailuresTotal.Describe(ch)
	m.AnalysisRuns.Describe(ch)
	m.AnalysisDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.TasksTotal.Collect(ch)
	m.TaskDuration.Collect(ch)
	m.QueueDepth.Collect(ch)
	m.TasksInFlight.Collect(ch)
	m.ImagesEnsured.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	m.AlertsTotal.Collect(ch)
	m.SagaFailuresTotal.Collect(ch)
	m.AnalysisRuns.Collect(ch)
	m.AnalysisDuration.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RecordTask records one task attempt.
func (m *PipelineMetrics) RecordTask(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(outcome).Inc()
	m.TaskDuration.Observe(d.Seconds())
}

// SetQueueDepth updates the waiting task gauge.
func (m *PipelineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetInFlight updates the executing task gauge.
func (m *PipelineMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.TasksInFlight.Set(float64(n))
}

// RecordEnsure records the action taken for an asset.
func (m *PipelineMetrics) RecordEnsure(action string) {
	if m == nil {
		return
	}
	m.ImagesEnsured.WithLabelValues(action).Inc()
}

// RecordDetection records a new detection and its alert severity.
func (m *PipelineMetrics) RecordDetection(severity string) {
	if m == nil {
		return
	}
	m.DetectionsTotal.Inc()
	if severity != "" {
		m.AlertsTotal.WithLabelValues(severity).Inc()
	}
}

// RecordSagaFailure records a failed downstream step.
func (m *PipelineMetrics) RecordSagaFailure(step string) {
	if m == nil {
		return
	}
	m.SagaFailuresTotal.WithLabelValues(step).Inc()
}

// RecordAnalysisRun records a finished analysis run.
func (m *PipelineMetrics) RecordAnalysisRun(success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.AnalysisRuns.WithLabelValues(result).Inc()
	m.AnalysisDuration.Observe(d.Seconds())
}
