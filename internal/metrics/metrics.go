package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Execution metrics
	ExecutionsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_executions_triggered_total",
			Help: "Total number of workflow executions triggered",
		},
		[]string{"workflow"},
	)

	ExecutionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_executions_completed_total",
			Help: "Total number of workflow executions reaching a terminal status",
		},
		[]string{"workflow", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_execution_duration_seconds",
			Help:    "Execution duration in seconds from trigger to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18),
		},
		[]string{"workflow"},
	)

	// Task metrics
	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_dispatched_total",
			Help: "Total number of tasks created by the dispatcher",
		},
		[]string{"workflow", "step", "step_type"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"workflow", "step", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Task handler execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"workflow", "step"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_task_retries_total",
			Help: "Total number of task retries",
		},
		[]string{"workflow", "step"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of acquirable (pending) tasks",
		},
		[]string{"step_type"},
	)

	QueueAcquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_queue_acquire_duration_seconds",
			Help:    "Time spent in the Acquire SQL round trip",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	OrphanReclaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_orphan_reclaims_total",
			Help: "Total number of LOCKED tasks reclaimed after lock timeout",
		},
	)

	// Dispatcher metrics
	FanInChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_fanin_checks_total",
			Help: "Total number of fan-in completeness checks performed",
		},
	)

	BranchDispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_branch_dispatch_errors_total",
			Help: "Total number of branch evaluation failures",
		},
		[]string{"workflow", "step"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_active_workers",
			Help: "Current number of active worker pools",
		},
	)

	WorkerActiveTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_worker_active_tasks",
			Help: "Current number of tasks a worker pool is processing",
		},
		[]string{"worker_id"},
	)

	// DLQ metrics
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_dlq_size",
			Help: "Current number of unreprocessed dead-letter entries",
		},
	)

	DLQAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dlq_added_total",
			Help: "Total number of tasks added to the dead-letter queue",
		},
		[]string{"workflow", "step"},
	)

	DLQReprocessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dlq_reprocessed_total",
			Help: "Total number of dead-letter entries reprocessed",
		},
		[]string{"workflow", "step"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Notifier metrics
	NotifierPublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_notifier_publishes_total",
			Help: "Total number of tasks-available hints published",
		},
	)

	NotifierErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_notifier_errors_total",
			Help: "Total number of notifier publish/subscribe errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordExecutionTrigger records a new execution being triggered.
func RecordExecutionTrigger(workflow string) {
	ExecutionsTriggered.WithLabelValues(workflow).Inc()
}

// RecordExecutionTerminal records an execution reaching a terminal status.
func RecordExecutionTerminal(workflow, status string, durationSeconds float64) {
	ExecutionsCompleted.WithLabelValues(workflow, status).Inc()
	ExecutionDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// RecordTaskDispatch records a task created by the dispatcher.
func RecordTaskDispatch(workflow, step, stepType string) {
	TasksDispatched.WithLabelValues(workflow, step, stepType).Inc()
}

// RecordTaskCompletion records a task reaching a terminal status.
func RecordTaskCompletion(workflow, step, status string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(workflow, step, status).Inc()
	TaskDuration.WithLabelValues(workflow, step).Observe(durationSeconds)
}

// RecordTaskRetry records a task being scheduled for retry.
func RecordTaskRetry(workflow, step string) {
	TaskRetries.WithLabelValues(workflow, step).Inc()
}

// UpdateQueueDepth updates the pending-task gauge for a step type.
func UpdateQueueDepth(stepType string, depth float64) {
	QueueDepth.WithLabelValues(stepType).Set(depth)
}

// RecordOrphanReclaim records a single reclaimed task.
func RecordOrphanReclaim() {
	OrphanReclaims.Inc()
}

// SetActiveWorkers sets the active worker-pool gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// SetDLQSize sets the DLQ size gauge.
func SetDLQSize(size float64) {
	DLQSize.Set(size)
}

// RecordDLQAdded records a task entering the dead-letter queue.
func RecordDLQAdded(workflow, step string) {
	DLQAdded.WithLabelValues(workflow, step).Inc()
}

// RecordDLQReprocessed records a dead-letter entry being reprocessed.
func RecordDLQReprocessed(workflow, step string) {
	DLQReprocessed.WithLabelValues(workflow, step).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordNotifierError records a notifier publish/subscribe failure.
func RecordNotifierError(operation string) {
	NotifierErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connection gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message sent.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
