// Prometheus counters/gauges for the build driver, grounded on the
// teacher's pkg/orchestrator/metrics.go (promauto-registered collectors
// under a fixed namespace).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the fixed set of Prometheus collectors updated, through
// Observer, from the task lifecycle events the scheduler publishes.
type Metrics struct {
	TasksStarted   *prometheus.CounterVec
	TasksSkipped   *prometheus.CounterVec
	TasksSucceeded *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	RunningBuilds  prometheus.Gauge
	ActiveTools    prometheus.Gauge
}

// NewMetrics registers the collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose them on the default
// /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csforge",
			Name:      "tasks_started_total",
			Help:      "Tool invocations started, by project and tool.",
		}, []string{"project", "tool"}),
		TasksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csforge",
			Name:      "tasks_skipped_total",
			Help:      "Tool invocations skipped as up to date, by project and tool.",
		}, []string{"project", "tool"}),
		TasksSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csforge",
			Name:      "tasks_succeeded_total",
			Help:      "Tool invocations that completed successfully, by project and tool.",
		}, []string{"project", "tool"}),
		TasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csforge",
			Name:      "tasks_failed_total",
			Help:      "Tool invocations that returned a build failure, by project and tool.",
		}, []string{"project", "tool"}),
		RunningBuilds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "csforge",
			Name:      "running_builds",
			Help:      "Number of tool invocations currently in flight.",
		}),
		ActiveTools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "csforge",
			Name:      "active_tools",
			Help:      "Number of tools across all projects that have not yet been deactivated.",
		}),
	}
}

// Observer adapts a Hub subscription into Metrics updates, so a CLI run
// that wires both only needs to call Observer once. The returned function
// unsubscribes.
func (m *Metrics) Observer(h *Hub) func() {
	ch, unsubscribe := h.Subscribe(256)
	go func() {
		for ev := range ch {
			switch ev.Type {
			case EventTaskStarted:
				m.TasksStarted.WithLabelValues(ev.Project, ev.Tool).Inc()
				m.RunningBuilds.Inc()
			case EventTaskSkipped:
				m.TasksSkipped.WithLabelValues(ev.Project, ev.Tool).Inc()
				m.RunningBuilds.Dec()
			case EventTaskSucceeded:
				m.TasksSucceeded.WithLabelValues(ev.Project, ev.Tool).Inc()
				m.RunningBuilds.Dec()
			case EventTaskFailed:
				m.TasksFailed.WithLabelValues(ev.Project, ev.Tool).Inc()
				m.RunningBuilds.Dec()
			case EventToolDone:
				m.ActiveTools.Dec()
			}
		}
	}()
	return unsubscribe
}
