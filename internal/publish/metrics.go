package publish

import "github.com/prometheus/client_golang/prometheus"

var publishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stats_aggregator",
	Subsystem: "publish",
	Name:      "messages_total",
	Help:      "Aggregate messages written to Kafka grouped by outcome.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(publishCounter)
}

func recordPublish(result string) {
	publishCounter.WithLabelValues(result).Inc()
}
