package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	laneSize            *prometheus.GaugeVec
	laneQueued          *prometheus.GaugeVec
	laneRunning         *prometheus.GaugeVec
	laneTasks           *prometheus.CounterVec
	abandonedTasks      *prometheus.CounterVec
	poolsCompleted      *prometheus.CounterVec
	poolDuration        prometheus.Histogram
	groupsCompleted     prometheus.Counter
	statisticsPublished prometheus.Counter
	statisticsStored    *prometheus.CounterVec
	evaluations         *prometheus.CounterVec
	evaluationDuration  prometheus.Histogram
}

// NewCollector creates a Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		laneSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evalpipe_lane_threads",
				Help: "Configured number of threads per lane",
			},
			[]string{"lane"},
		),
		laneQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evalpipe_lane_queued_tasks",
				Help: "Tasks waiting for a lane thread",
			},
			[]string{"lane"},
		),
		laneRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evalpipe_lane_running_tasks",
				Help: "Tasks currently running on a lane",
			},
			[]string{"lane"},
		),
		laneTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_lane_tasks_total",
				Help: "Total number of lane tasks by final status",
			},
			[]string{"lane", "status"},
		),
		abandonedTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_lane_abandoned_tasks_total",
				Help: "Tasks abandoned by a forced lane shutdown",
			},
			[]string{"lane"},
		),
		poolsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_pools_completed_total",
				Help: "Total number of pools completed by outcome",
			},
			[]string{"outcome"},
		),
		poolDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evalpipe_pool_duration_seconds",
				Help:    "Pool evaluation duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		groupsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "evalpipe_message_groups_completed_total",
				Help: "Total number of message groups marked complete",
			},
		),
		statisticsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "evalpipe_statistics_published_total",
				Help: "Total number of statistics messages published",
			},
		),
		statisticsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_statistics_stored_total",
				Help: "Total number of statistics messages stored by the product consumer",
			},
			[]string{"status"},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalpipe_evaluations_total",
				Help: "Total number of evaluations by terminal state",
			},
			[]string{"state"},
		),
		evaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evalpipe_evaluation_duration_seconds",
				Help:    "Evaluation duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
	}
}

// RecordLaneStatus records the size, queue depth and running tasks of a lane
func (c *Collector) RecordLaneStatus(lane string, size, queued, running int) {
	c.laneSize.WithLabelValues(lane).Set(float64(size))
	c.laneQueued.WithLabelValues(lane).Set(float64(queued))
	c.laneRunning.WithLabelValues(lane).Set(float64(running))
}

// IncLaneTasks counts a finished lane task
func (c *Collector) IncLaneTasks(lane, status string) {
	c.laneTasks.WithLabelValues(lane, status).Inc()
}

// AddAbandonedTasks counts tasks abandoned when a lane was forced down
func (c *Collector) AddAbandonedTasks(lane string, count int) {
	c.abandonedTasks.WithLabelValues(lane).Add(float64(count))
}

// RecordPoolCompleted records a pool outcome and its duration
func (c *Collector) RecordPoolCompleted(outcome string, duration time.Duration) {
	c.poolsCompleted.WithLabelValues(outcome).Inc()
	c.poolDuration.Observe(duration.Seconds())
}

// IncGroupsCompleted counts a completed message group
func (c *Collector) IncGroupsCompleted() {
	c.groupsCompleted.Inc()
}

// IncStatisticsPublished counts a published statistics message
func (c *Collector) IncStatisticsPublished() {
	c.statisticsPublished.Inc()
}

// IncStatisticsStored counts a statistics message handled by the product consumer
func (c *Collector) IncStatisticsStored(status string) {
	c.statisticsStored.WithLabelValues(status).Inc()
}

// RecordEvaluation records the terminal state and duration of an evaluation
func (c *Collector) RecordEvaluation(state string, duration time.Duration) {
	c.evaluations.WithLabelValues(state).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
}
