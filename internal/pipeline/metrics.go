package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage runs by stage and status.",
		},
		[]string{"stage", "status"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"},
	)
)

func recordStage(stage, status string, d time.Duration) {
	stageRunsTotal.WithLabelValues(stage, status).Inc()
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
