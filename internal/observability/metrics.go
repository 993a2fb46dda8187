package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	aggregatePublishedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stats_aggregator",
		Subsystem: "engine",
		Name:      "last_aggregate_published_timestamp_seconds",
		Help:      "Unix timestamp of the most recent aggregate published to subscribers.",
	})
	scheduledRefreshGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stats_aggregator",
		Subsystem: "scheduler",
		Name:      "last_refresh_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent scheduled refresh sweep that finished.",
	})
)

func init() {
	prometheus.MustRegister(aggregatePublishedGauge, scheduledRefreshGauge)
}

// RecordAggregatePublished updates the publish watermark gauge.
func RecordAggregatePublished(ts time.Time) {
	if ts.IsZero() {
		return
	}
	aggregatePublishedGauge.Set(float64(ts.Unix()))
}

// RecordRefreshCompleted updates the scheduled refresh watermark gauge.
func RecordRefreshCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	scheduledRefreshGauge.Set(float64(ts.Unix()))
}
