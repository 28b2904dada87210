package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/epiwatch-io/platform/pkg/common/config"
	"github.com/epiwatch-io/platform/pkg/common/logger"
	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	topic  string
}

type EventHandler func(ctx context.Context, event models.Event) error

// NewConsumer builds a group reader for topic. Batch events arrive in bursts
// a few times a day, so the reader favors prompt delivery over throughput.
func NewConsumer(topic string, groupID string) *Consumer {
	cfg := config.Load()
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB, a country batch can carry thousands of rows
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{reader: reader, topic: topic}
}

// Consume fetches events until ctx ends. A message that cannot be decoded is
// committed and dropped; a handler failure leaves the offset uncommitted so
// the batch is retried.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.WithError(err).WithField("topic", c.topic).
					Error("Failed to fetch message")
				time.Sleep(time.Second)
				continue
			}

			var event models.Event
			if err := json.Unmarshal(message.Value, &event); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"topic":  c.topic,
					"offset": message.Offset,
				}).Error("Failed to unmarshal event, dropping")
				c.reader.CommitMessages(ctx, message)
				continue
			}

			if err := handler(ctx, event); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"event_id":   event.ID,
					"event_type": event.Type,
					"topic":      c.topic,
				}).Error("Failed to process event")
				// Don't commit on error, will retry
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).WithField("topic", c.topic).
					Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
