package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the consumer pipeline.
type PipelineMetrics struct {
	MessagesTotal      *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	IntegrityWarnings  *prometheus.CounterVec
	DuplicatesSkipped  *prometheus.CounterVec
	AlertsOpened       *prometheus.CounterVec
	AlertsResolved     *prometheus.CounterVec
	CacheErrors        *prometheus.CounterVec
	NotifyErrors       prometheus.Counter
	ProcessingDuration *prometheus.HistogramVec
	PersistDuration    *prometheus.HistogramVec
	ActiveWorkers      prometheus.Gauge
}

// NewPipelineMetrics creates and registers consumer pipeline metrics.
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	m := &PipelineMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of messages processed",
			},
			[]string{"queue", "status"}, // status: processed, dropped, duplicate, retried
		),
		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "validation_failures_total",
				Help:      "Total number of messages dropped by validation",
			},
			[]string{"queue", "reason"},
		),
		IntegrityWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "integrity_warnings_total",
				Help:      "Total number of readings flagged for data-integrity violations",
			},
			[]string{"queue"},
		),
		DuplicatesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "duplicates_skipped_total",
				Help:      "Total number of redelivered messages skipped via deduplication",
			},
			[]string{"queue"},
		),
		AlertsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "opened_total",
				Help:      "Total number of alerts opened",
			},
			[]string{"alert_type", "severity"},
		),
		AlertsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "resolved_total",
				Help:      "Total number of alerts resolved",
			},
			[]string{"alert_type"},
		),
		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of best-effort cache write failures",
			},
			[]string{"operation"},
		),
		NotifyErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "errors_total",
				Help:      "Total number of failed alert webhook deliveries",
			},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "processing_duration_seconds",
				Help:      "Duration of end-to-end message processing",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		PersistDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "persist_duration_seconds",
				Help:      "Duration of the per-message persistence transaction",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "active_workers",
				Help:      "Number of running queue workers",
			},
		),
	}

	MustRegister(
		m.MessagesTotal,
		m.ValidationFailures,
		m.IntegrityWarnings,
		m.DuplicatesSkipped,
		m.AlertsOpened,
		m.AlertsResolved,
		m.CacheErrors,
		m.NotifyErrors,
		m.ProcessingDuration,
		m.PersistDuration,
		m.ActiveWorkers,
	)

	return m
}
