package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks task outcomes and module run times.
//
// Metrics:
//   - conductor_tasks_total: task results by status (ok, changed, failed, ignored, skipped)
//   - conductor_module_duration_seconds: module execution time by module
//
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the runner metrics with registry, or a
// new registry when registry is nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conductor",
				Name:      "tasks_total",
				Help:      "Total number of tasks run, by result status",
			},
			[]string{"status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "conductor",
				Name:      "module_duration_seconds",
				Help:      "Duration of module executions in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"module"},
		),
	}
	registry.MustRegister(m.tasksTotal, m.moduleDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) recordTask(r *TaskResult) {
	if m == nil || r == nil {
		return
	}
	m.tasksTotal.WithLabelValues(r.Status()).Inc()
}

func (m *Metrics) observeModule(module string, d time.Duration) {
	if m == nil {
		return
	}
	m.moduleDuration.WithLabelValues(module).Observe(d.Seconds())
}

// WriteTextfile writes the current metrics in the node exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
