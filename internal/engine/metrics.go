package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/aggregator/internal/domain"
)

var (
	aggregationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stats_aggregator",
		Subsystem: "engine",
		Name:      "aggregation_duration_seconds",
		Help:      "Time spent fetching and merging all sources for one aggregate.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"window"})

	sourceErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stats_aggregator",
		Subsystem: "engine",
		Name:      "source_errors_total",
		Help:      "Source fetches whose contribution was dropped, grouped by source.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(aggregationDuration, sourceErrorCounter)
}

func recordSourceError(source domain.SourceID) {
	sourceErrorCounter.WithLabelValues(string(source)).Inc()
}
