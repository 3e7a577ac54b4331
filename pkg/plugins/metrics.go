package plugins

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsPlugin exposes task lifecycle counters and a running-time
// histogram over Prometheus.
type MetricsPlugin struct {
	tasksTotal  *prometheus.CounterVec
	runningTime *prometheus.HistogramVec
	queueDepth  *prometheus.GaugeVec
}

// NewMetricsPlugin registers the metrics against reg (use
// prometheus.DefaultRegisterer for the global registry).
func NewMetricsPlugin(reg prometheus.Registerer) *MetricsPlugin {
	factory := promauto.With(reg)
	return &MetricsPlugin{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broqueue_tasks_total",
			Help: "Total tasks processed, by task name and outcome.",
		}, []string{"task_name", "outcome"}),
		runningTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broqueue_task_running_seconds",
			Help:    "Task running time in seconds, by task name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broqueue_queue_depth",
			Help: "Number of pending requests, by queue name.",
		}, []string{"queue"}),
	}
}

func (p *MetricsPlugin) RegisterMasterHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"task_done":      p.onOutcome("done"),
		"task_exception": p.onOutcome("exception"),
		"task_interrupt": p.onOutcome("interrupt"),
		"task_expires":   p.onOutcome("expired"),
		"task_unknown":   p.onUnknown,
	}
}

func (p *MetricsPlugin) onOutcome(outcome string) HandlerFunc {
	return func(w Worker, fields map[string]interface{}) {
		name, _ := fields["task_name"].(string)
		p.tasksTotal.WithLabelValues(name, outcome).Inc()
		if rt, ok := fields["running_time"].(float64); ok {
			p.runningTime.WithLabelValues(name).Observe(rt)
		}
	}
}

func (p *MetricsPlugin) onUnknown(w Worker, fields map[string]interface{}) {
	name, _ := fields["task_name"].(string)
	p.tasksTotal.WithLabelValues(name, "unknown").Inc()
}

// SetQueueDepth records a point-in-time depth sample for queue, meant to
// be called from a periodic collector alongside the worker's own metrics
// server (see cmd/worker).
func (p *MetricsPlugin) SetQueueDepth(queue string, depth int64) {
	p.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
