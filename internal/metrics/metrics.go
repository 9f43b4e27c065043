package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal tracks settled tasks per gateway and outcome
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_total",
			Help: "Total number of settled tasks",
		},
		[]string{"gateway", "outcome"},
	)

	// TaskLatency tracks task latency per gateway
	TaskLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_task_latency_seconds",
			Help:    "Task latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway"},
	)

	// BatchesTotal tracks batch runs per gateway, tier and result
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Total number of batch runs",
		},
		[]string{"gateway", "tier", "result"},
	)

	// GatewayStatus tracks the current health status per gateway
	// (0=online, 1=degraded, 2=offline)
	GatewayStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_gateway_status",
			Help: "Current gateway health status (0=online, 1=degraded, 2=offline)",
		},
		[]string{"gateway"},
	)

	// HealthTransitionsTotal tracks gateway status transitions
	HealthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_health_transitions_total",
			Help: "Total number of gateway health status transitions",
		},
		[]string{"gateway", "to"},
	)

	// TaskFailuresTotal tracks classified task failures
	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_task_failures_total",
			Help: "Total number of task failures by category",
		},
		[]string{"gateway", "category"},
	)
)
