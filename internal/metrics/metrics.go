package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "personaq"

var (
	RunsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs dispatched.",
		},
	)

	RunsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs that reached a terminal status.",
		},
		[]string{"status"},
	)

	TasksExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Total number of persona tasks executed, labeled by persona and outcome.",
		},
		[]string{"persona", "outcome"},
	)

	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of a persona task execution (seconds).",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 300, 450, 600, 900},
		},
		[]string{"persona", "outcome"},
	)

	TasksInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_inflight",
			Help:      "Number of persona tasks currently executing.",
		},
	)

	RunOverReportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_over_reports_total",
			Help:      "Outcome reports rejected because the run was unknown or already terminal.",
		},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of run completion webhook deliveries, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by a token bucket, labeled by scope and operation.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsStartedTotal,
		RunsFinishedTotal,
		TasksExecutedTotal,
		TaskDurationSeconds,
		TasksInflight,
		RunOverReportsTotal,
		WebhookDeliveriesTotal,
		RateLimitHitsTotal,
	)
}
