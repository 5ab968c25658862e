// Package producer wraps a Sarama sync producer for the router's
// lifecycle event stream.
package producer

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config *sarama.Config
}

// WithConfig allows callers to supply a preconfigured Sarama config.
// The configuration is cloned internally so the caller retains
// ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// Producer publishes records synchronously, waiting for broker
// acknowledgement before returning.
type Producer struct {
	logger       zerolog.Logger
	syncProducer sarama.SyncProducer
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{config: defaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	syncProd, err := sarama.NewSyncProducer(brokers, cloneConfig(settings.config))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	return &Producer{
		logger:       logger,
		syncProducer: syncProd,
	}, nil
}

// PublishSync publishes a message and waits for the Kafka broker to
// acknowledge receipt.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: toRecordHeaders(headers),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	if _, _, err := p.syncProducer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}
	return nil
}

// Close releases the underlying Sarama producer.
func (p *Producer) Close() error {
	return p.syncProducer.Close()
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "sms-router-producer"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 10 * time.Second
	return cfg
}

func cloneConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		return defaultConfig()
	}
	cloned := *cfg
	return &cloned
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for key, value := range headers {
		out = append(out, sarama.RecordHeader{Key: []byte(key), Value: value})
	}
	return out
}
