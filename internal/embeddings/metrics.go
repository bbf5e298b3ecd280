package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "embeddings",
			Name:      "requests_total",
			Help:      "Total embedding requests by model and status.",
		},
		[]string{"model", "status"},
	)

	embedTextsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "embeddings",
			Name:      "texts_total",
			Help:      "Total texts submitted for embedding by model.",
		},
		[]string{"model"},
	)

	embedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "playbookd",
			Subsystem: "embeddings",
			Name:      "request_duration_seconds",
			Help:      "Embedding request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "embeddings",
			Name:      "cache_hits_total",
			Help:      "Embedding cache hits.",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "playbookd",
			Subsystem: "embeddings",
			Name:      "cache_misses_total",
			Help:      "Embedding cache misses.",
		},
	)
)

func recordEmbedding(model string, texts int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	embedRequestsTotal.WithLabelValues(model, status).Inc()
	embedTextsTotal.WithLabelValues(model).Add(float64(texts))
	embedDuration.WithLabelValues(model).Observe(d.Seconds())
}

func recordCacheHit()  { cacheHitsTotal.Inc() }
func recordCacheMiss() { cacheMissesTotal.Inc() }
