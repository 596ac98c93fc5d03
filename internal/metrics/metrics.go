package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hosting API metrics
	hostingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firstmerge_hosting_request_duration_seconds",
			Help:    "Hosting API request duration in seconds by operation and outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~50s
		},
		[]string{"op", "outcome"},
	)

	// Tutor API metrics
	tutorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firstmerge_tutor_request_duration_seconds",
			Help:    "Text-generation request duration in seconds by status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"status"},
	)

	// Workflow metrics
	workflowStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firstmerge_workflow_step_duration_seconds",
			Help:    "Workflow step duration in seconds by step",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"step"},
	)

	workflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firstmerge_workflow_runs_total",
			Help: "Total workflow runs by terminal result",
		},
		[]string{"result"}, // "succeeded" or the failure kind
	)

	// Curriculum metrics
	stageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firstmerge_stage_transitions_total",
			Help: "Total curriculum stage transitions by kind and status",
		},
		[]string{"kind", "status"}, // kind: "advance"/"jump", status: "ok"/"rejected"
	)
)

// RecordHostingRequest records a hosting API request duration
func RecordHostingRequest(op, outcome string, duration time.Duration) {
	hostingRequestDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

// RecordTutorRequest records a text-generation request duration
func RecordTutorRequest(status string, duration time.Duration) {
	tutorRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordWorkflowStep records a workflow step duration
func RecordWorkflowStep(step string, duration time.Duration) {
	workflowStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordWorkflowRun increments the terminal-result counter for a run
func RecordWorkflowRun(result string) {
	workflowRuns.WithLabelValues(result).Inc()
}

// RecordStageTransition increments the stage transition counter
func RecordStageTransition(kind string, ok bool) {
	status := "ok"
	if !ok {
		status = "rejected"
	}
	stageTransitions.WithLabelValues(kind, status).Inc()
}
