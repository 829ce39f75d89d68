// Package metrics exposes Prometheus instrumentation for the RLM engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModelCalls counts model invocations per provider.
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_model_calls_total",
			Help: "Number of model invocations per provider.",
		},
		[]string{"provider"},
	)

	// ModelErrors counts failed model invocations per provider.
	ModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_model_errors_total",
			Help: "Number of failed model invocations per provider.",
		},
		[]string{"provider"},
	)

	// SandboxExecutions counts code fragments executed in sandboxes.
	SandboxExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_executions_total",
			Help: "Number of code fragments executed.",
		},
	)

	// SandboxFaults counts executions that ended in a fault (bad syntax,
	// interpreted panic, timeout, cancellation).
	SandboxFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_sandbox_faults_total",
			Help: "Number of code executions that ended in a fault.",
		},
	)

	// JobsCreated counts jobs created in the status store.
	JobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rlm_jobs_created_total",
			Help: "Number of jobs created.",
		},
	)

	// JobTransitions counts job status transitions by target state.
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_job_transitions_total",
			Help: "Number of job status transitions by target state.",
		},
		[]string{"state"},
	)

	// SessionIterations observes how many loop iterations sessions use.
	SessionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rlm_session_iterations",
			Help:    "Distribution of reasoning loop iterations per session.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 30},
		},
	)

	// SubTasks counts orchestrated sub-tasks by outcome.
	SubTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlm_subtasks_total",
			Help: "Number of orchestrated sub-tasks by outcome.",
		},
		[]string{"outcome"},
	)
)
