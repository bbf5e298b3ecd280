package cluster

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "cluster",
			Name:      "runs_total",
			Help:      "Completed clustering runs by pattern type.",
		},
		[]string{"pattern_type"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "cluster",
			Name:      "run_duration_seconds",
			Help:      "Clustering run latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"pattern_type"},
	)

	familiesPerRun = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "cluster",
			Name:      "families_per_run",
			Help:      "Family count produced per clustering run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"pattern_type"},
	)

	patternsPerRun = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "cluster",
			Name:      "patterns_per_run",
			Help:      "Pattern count per clustering run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"pattern_type"},
	)
)

func recordClustering(patternType string, patterns, families int, d time.Duration) {
	runsTotal.WithLabelValues(patternType).Inc()
	runDuration.WithLabelValues(patternType).Observe(d.Seconds())
	familiesPerRun.WithLabelValues(patternType).Observe(float64(families))
	patternsPerRun.WithLabelValues(patternType).Observe(float64(patterns))
}
