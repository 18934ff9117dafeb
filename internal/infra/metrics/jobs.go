package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobPhaseTransitionsTotal,
		tasksProcessedTotal,
		taskRetriesTotal,
		taskDurationSeconds,
		backlogPending,
		pipelineChunksTotal,
	)
}

var (
	jobPhaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_phase_transitions_total",
			Help: "Number of times jobs entered each phase.",
		},
		[]string{"phase"},
	)

	tasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_processed_total",
			Help: "Total number of tasks processed, labeled by type and status.",
		},
		[]string{"type", "status"}, // status: 'completed', 'failed', 'canceled'
	)

	taskRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_retries_total",
			Help: "Tasks re-enqueued after a transient failure.",
		},
		[]string{"type"},
	)

	taskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Wall-clock duration of task executions.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"type"},
	)

	backlogPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backlog_pending",
			Help: "Tasks waiting in the backlog.",
		},
	)

	pipelineChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_total",
			Help: "Audio chunks transcribed, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'failed'
	)
)

func IncJobPhase(phase string) {
	jobPhaseTransitionsTotal.WithLabelValues(norm(phase)).Inc()
}

func IncTask(taskType, status string) {
	tasksProcessedTotal.WithLabelValues(norm(taskType), norm(status)).Inc()
}

func IncTaskRetry(taskType string) {
	taskRetriesTotal.WithLabelValues(norm(taskType)).Inc()
}

func ObserveTaskDuration(taskType string, d time.Duration) {
	taskDurationSeconds.WithLabelValues(norm(taskType)).Observe(d.Seconds())
}

func SetBacklogPending(n int64) {
	backlogPending.Set(float64(n))
}

func IncChunk(result string) {
	pipelineChunksTotal.WithLabelValues(norm(result)).Inc()
}
