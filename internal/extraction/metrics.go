package extraction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "extraction",
			Name:      "chunks_total",
			Help:      "Chunk extractions by pattern type and outcome.",
		},
		[]string{"pattern_type", "status"},
	)

	extractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "End-to-end extraction latency per chunk, retries included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"pattern_type"},
	)

	patternsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "extraction",
			Name:      "patterns_total",
			Help:      "Patterns accepted above the confidence threshold.",
		},
		[]string{"pattern_type"},
	)

	discardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "extraction",
			Name:      "discarded_total",
			Help:      "Patterns discarded below the confidence threshold.",
		},
		[]string{"pattern_type"},
	)
)

func recordExtraction(patternType, status string, d time.Duration) {
	extractionsTotal.WithLabelValues(patternType, status).Inc()
	extractionDuration.WithLabelValues(patternType).Observe(d.Seconds())
}

func recordPatterns(patternType string, n int) {
	if n > 0 {
		patternsTotal.WithLabelValues(patternType).Add(float64(n))
	}
}

func recordDiscarded(patternType string) {
	discardedTotal.WithLabelValues(patternType).Inc()
}
