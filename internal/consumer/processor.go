// Package consumer listens for activity changes and invalidates the aggregates they affect.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader is the subset of *kafka.Reader the Processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler reacts to one decoded activity event.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is an activity event after header and payload decoding.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	EventType string
	UserID    string
	Payload   json.RawMessage
}

const defaultFetchBackoff = time.Second

// Option configures the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.fetchBackoff = d
		}
	}
}

// Processor feeds activity events from a Reader into a Handler. Offsets are
// committed once the handler succeeds or the message proves undecodable; a
// handler failure leaves the offset uncommitted.
type Processor struct {
	reader       Reader
	handler      Handler
	logger       *log.Logger
	fetchBackoff time.Duration
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		logger:       log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		fetchBackoff: defaultFetchBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled or the reader reports
// cancellation, and returns that error.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		raw, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			p.logger.Printf("fetch failed: %v", err)
			p.pause(ctx)
			continue
		}
		p.process(ctx, raw)
	}
	return ctx.Err()
}

func (p *Processor) process(ctx context.Context, raw kafka.Message) {
	msg, err := decodeMessage(raw)
	if err != nil {
		// Undecodable messages are committed so they cannot block the partition.
		p.logger.Printf("drop %s/%d@%d: %v", raw.Topic, raw.Partition, raw.Offset, err)
		recordOutcome(raw.Topic, "", outcomeDecodeError)
		p.commit(ctx, raw)
		return
	}

	if err := p.handler.Handle(ctx, msg); err != nil {
		p.logger.Printf("handle %s for user %s failed: %v", msg.EventType, msg.UserID, err)
		recordOutcome(msg.Topic, msg.EventType, outcomeHandlerError)
		return
	}

	if p.commit(ctx, raw) {
		recordOutcome(msg.Topic, msg.EventType, outcomeProcessed)
		recordLastMessage(msg)
	}
}

func (p *Processor) commit(ctx context.Context, raw kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, raw); err != nil {
		p.logger.Printf("commit %s/%d@%d failed: %v", raw.Topic, raw.Partition, raw.Offset, err)
		return false
	}
	return true
}

func (p *Processor) pause(ctx context.Context) {
	if p.fetchBackoff == 0 {
		return
	}
	t := time.NewTimer(p.fetchBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// decodeMessage reads the event type from the event_type header and the user
// from the user_id header, falling back to the JSON payload.
func decodeMessage(raw kafka.Message) (Message, error) {
	eventType := header(raw, "event_type")
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}
	if !json.Valid(raw.Value) {
		return Message{}, fmt.Errorf("payload is not JSON (%d bytes)", len(raw.Value))
	}

	userID := header(raw, "user_id")
	if userID == "" {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(raw.Value, &body); err == nil {
			userID = body.UserID
		}
	}
	if userID == "" {
		return Message{}, errors.New("missing user_id")
	}

	return Message{
		Topic:     raw.Topic,
		Partition: raw.Partition,
		Offset:    raw.Offset,
		Timestamp: raw.Time,
		EventType: eventType,
		UserID:    userID,
		Payload:   json.RawMessage(append([]byte(nil), raw.Value...)),
	}, nil
}

func header(raw kafka.Message, key string) string {
	for _, h := range raw.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
