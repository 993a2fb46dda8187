package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed    = "processed"
	outcomeHandlerError = "handler_error"
	outcomeDecodeError  = "decode_error"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stats_aggregator",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Activity events read from Kafka by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stats_aggregator",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Produce time of the newest committed activity event per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastMessageGauge)
}

// recordOutcome counts one message. eventType is empty for undecodable messages.
func recordOutcome(topic, eventType, outcome string) {
	messagesCounter.WithLabelValues(topic, eventType, outcome).Inc()
}

func recordLastMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		return
	}
	lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
}
