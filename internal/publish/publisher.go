// Package publish delivers merged aggregates to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"example.com/aggregator/internal/domain"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Publisher writes one stats.aggregated message per published aggregate,
// keyed by user so that a user's aggregates stay ordered on one partition.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer messageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

// Publish implements engine.Subscriber.
func (p *Publisher) Publish(ctx context.Context, stats domain.AggregatedStats) error {
	body, err := json.Marshal(newStatsAggregated(stats))
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(stats.UserID),
		Value: body,
		Time:  stats.ComputedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventStatsAggregated)},
			{Key: "user_id", Value: []byte(stats.UserID)},
			{Key: "window", Value: []byte(stats.Window)},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		recordPublish("error")
		return fmt.Errorf("publish %s: %w", EventStatsAggregated, err)
	}
	recordPublish("ok")
	return nil
}
