// Package ingest consumes inbound message records from a Kafka topic
// and feeds them into the router, providing a second inbound transport
// besides HTTP.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/models"
)

const (
	defaultSessionTimeout = 30 * time.Second
	defaultHeartbeat      = 3 * time.Second
	defaultConsumeBackoff = time.Second
)

// InboundRecord is the JSON schema expected on the ingest topic.
type InboundRecord struct {
	Backend string `json:"backend"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

// Router is the subset of router behaviour the ingest loop needs.
type Router interface {
	HandleIncoming(ctx context.Context, backend, sender, text string) (*models.Message, error)
}

// Consumer reads inbound records from a topic via a Sarama consumer
// group and hands each one to the router. Malformed records are logged
// and skipped; routing failures are logged and the offset is still
// marked so one poisonous record cannot wedge the partition.
type Consumer struct {
	logger  zerolog.Logger
	group   sarama.ConsumerGroup
	groupID string
	router  Router
}

// New constructs a Consumer for the supplied brokers and consumer group.
func New(brokers []string, groupID string, router Router, logger zerolog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka ingest: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka ingest: group id is required")
	}
	if router == nil {
		return nil, errors.New("kafka ingest: router dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "sms-router-ingest"
	cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka ingest: create consumer group: %w", err)
	}

	c := &Consumer{
		logger:  logger,
		group:   group,
		groupID: groupID,
		router:  router,
	}

	go c.consumeErrors()

	return c, nil
}

// Run blocks, consuming records from the topic until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka ingest: topic is required")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.group.Consume(ctx, []string{topic}, &groupHandler{consumer: c})
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error().Err(err).Msg("kafka ingest: consume error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultConsumeBackoff):
			}
		}
	}
}

// Close shuts down the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) consumeErrors() {
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka ingest error")
		}
	}
}

func (c *Consumer) handleRecord(ctx context.Context, msg *sarama.ConsumerMessage) {
	var record InboundRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		c.logger.Warn().
			Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("kafka ingest: malformed record skipped")
		return
	}
	if record.Backend == "" || record.Sender == "" {
		c.logger.Warn().
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("kafka ingest: record missing backend or sender, skipped")
		return
	}

	routed, err := c.router.HandleIncoming(ctx, record.Backend, record.Sender, record.Text)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("backend", record.Backend).
			Str("sender", record.Sender).
			Msg("kafka ingest: routing failed")
		return
	}
	c.logger.Debug().
		Str("message_id", routed.ID).
		Str("backend", record.Backend).
		Msg("kafka ingest: message routed")
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info().
		Str("group_id", h.consumer.groupID).
		Msg("kafka ingest group ready")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.consumer.handleRecord(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}
