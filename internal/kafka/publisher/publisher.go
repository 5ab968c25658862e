// Package publisher emits message lifecycle events to a Kafka topic.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/models"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour required by
// the event publisher.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// EventPublisher writes MessageEvents to a Kafka topic using the shared
// producer. Events are keyed by message id so a message's lifecycle
// lands on one partition in order.
type EventPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

// New constructs an EventPublisher instance.
func New(prod SyncProducer, topic string, logger zerolog.Logger) *EventPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &EventPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// PublishEvent writes the supplied lifecycle event to Kafka synchronously.
func (p *EventPublisher) PublishEvent(_ context.Context, event models.MessageEvent) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal message event: %w", err)
	}

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}

	if err := p.producer.PublishSync(p.topic, []byte(event.MessageID), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish message event: %w", err)
	}
	return nil
}
