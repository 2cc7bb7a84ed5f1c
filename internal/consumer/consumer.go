// Package consumer provides Kafka consumer functionality for the
// scored.signals topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/siberlink/energyriskiq-ops-sub002/internal/events"
	kafkautil "github.com/siberlink/energyriskiq-ops-sub002/pkg/kafka"
)

// Consumer wraps a Kafka reader and provides a simple interface for
// consuming scored signals.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers,
// topic, and group ID. The consumer is configured for at-least-once
// delivery semantics: commit only after the signal is processed.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// ReadSignal reads the next message from Kafka and deserializes it as a
// ScoredSignal. Malformed messages return the raw message alongside the
// error so the caller can commit past them.
func (c *Consumer) ReadSignal(ctx context.Context) (*events.ScoredSignal, *kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var sig events.ScoredSignal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal scored signal: %w", err)
	}
	if !events.IsKnownAlertType(sig.AlertType) {
		return nil, &msg, fmt.Errorf("unknown alert type in scored signal: %q", sig.AlertType)
	}

	return &sig, &msg, nil
}

// CommitMessage commits the offset for the given message. Call after the
// signal has been processed.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// CommitBatch commits the offsets for a batch of messages at once. A nil
// or empty batch is a no-op.
func (c *Consumer) CommitBatch(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.reader.CommitMessages(ctx, msgs...)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}
