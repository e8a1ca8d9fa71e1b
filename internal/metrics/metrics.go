package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_received_total",
		Help: "Total number of raw payloads presented to the validation gate.",
	})

	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_accepted_total",
		Help: "Total number of payloads normalized into events.",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_events_rejected_total",
		Help: "Total number of payloads rejected, labelled by rejection code.",
	}, []string{"code"})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_duplicate_total",
		Help: "Total number of events skipped because their event_id was already processed.",
	})

	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_failed_total",
		Help: "Total number of events whose processing hit an infrastructure failure.",
	})

	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_enqueued_total",
		Help: "Total number of events placed on the processing queue.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_dropped_total",
		Help: "Total number of events refused due to a full queue.",
	})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rule_matches_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	AlertsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_persisted_total",
		Help: "Total number of alerts appended to the alert store.",
	}, []string{"risk_code", "severity"})

	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_suppressed_total",
		Help: "Total number of candidate alerts discarded inside a suppression window.",
	}, []string{"rule_id"})

	CorrelationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_correlation_transitions_total",
		Help: "Total number of correlation entry transitions, labelled by new status.",
	}, []string{"status"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sweep_runs_total",
		Help: "Total number of correlation sweeps, labelled by result.",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_sweep_duration_ms",
		Help:    "Correlation sweep latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_event_processing_duration_ms",
		Help:    "End-to-end event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_queue_utilization_ratio",
		Help: "Current event queue utilization (0–1).",
	})

	OpenCorrelations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_open_correlations",
		Help: "Number of correlation entries currently OPEN.",
	})
)
