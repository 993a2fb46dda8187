package cache

import "github.com/prometheus/client_golang/prometheus"

var lookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stats_aggregator",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Aggregate cache lookups grouped by result (hit or miss).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(lookupCounter)
}

func recordCacheResult(hit bool) {
	if hit {
		lookupCounter.WithLabelValues("hit").Inc()
		return
	}
	lookupCounter.WithLabelValues("miss").Inc()
}
