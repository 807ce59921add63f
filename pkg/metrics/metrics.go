package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_jobs_started_total",
		Help: "The total number of jobs started by type",
	}, []string{"job_type"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_jobs_finished_total",
		Help: "The total number of jobs finished by type and outcome",
	}, []string{"job_type", "status"})

	JobProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_job_processing_seconds",
		Help:    "Time taken to run a job to a terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"job_type"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_step_duration_seconds",
		Help:    "Time taken to execute a single job step",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job_type", "step"})

	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_step_failures_total",
		Help: "Total number of failed steps by type and step name",
	}, []string{"job_type", "step", "error_type"})

	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_step_retries_total",
		Help: "Number of in-step retries before a step settled",
	}, []string{"job_type", "step"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_job_queue_depth",
		Help: "The number of jobs waiting for a worker",
	})

	IntentsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_intents_published_total",
		Help: "The total number of intents published to the solver relay",
	})

	FinalizePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_finalize_polls_total",
		Help: "The total number of settlement status polls issued",
	})

	LedgerWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_ledger_write_retries_total",
		Help: "Number of step status writes that needed a retry",
	})

	NodeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_node_calls_total",
		Help: "Chain RPC calls by method and outcome",
	}, []string{"method", "status"})
)
