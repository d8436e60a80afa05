// Package telemetry wires the orchestrator's Prometheus metrics and
// OpenTelemetry tracer, scoped to the tool executor, scheduler, and cron
// service — the three components whose throughput and latency operators
// actually need to watch.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TracerName is used for every span this module emits.
const TracerName = "github.com/haasonsaas/orchestra"

// Metrics bundles every Prometheus collector the orchestrator registers.
// Construct once per process with NewMetrics and share it across components.
type Metrics struct {
	ToolExecutions        *prometheus.CounterVec
	ToolExecutionDuration  *prometheus.HistogramVec
	SchedulerTasksRunning  prometheus.Gauge
	SchedulerTasksBlocked  prometheus.Counter
	CronJobRuns            *prometheus.CounterVec
	EventBusPublished      *prometheus.CounterVec
	EventBusHandlerPanics  prometheus.Counter
}

// NewMetrics registers all collectors against reg. Pass prometheus.NewRegistry()
// in tests to avoid collisions with the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_tool_executions_total",
			Help: "Tool executions by tool name and outcome (success, error, timeout).",
		}, []string{"tool", "outcome"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestra_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		SchedulerTasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orchestra_scheduler_tasks_running",
			Help: "Number of tasks currently tracked by the plan director.",
		}),
		SchedulerTasksBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestra_scheduler_tasks_blocked_total",
			Help: "Tasks transitioned to blocked by the watchdog.",
		}),
		CronJobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_cron_job_runs_total",
			Help: "Cron job invocations by job name and outcome.",
		}, []string{"job", "outcome"}),
		EventBusPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestra_event_bus_published_total",
			Help: "Events published on the event bus, by event type.",
		}, []string{"type"}),
		EventBusHandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestra_event_bus_handler_panics_total",
			Help: "Subscriber handlers that panicked and were isolated.",
		}),
	}
}

// Tracer returns the orchestrator's shared tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
