package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-events/internal/logger"
	"ms-events/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer streams event lifecycle notifications to Kafka.
type Producer struct {
	Writer messageWriter
	Logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Logger: log}
}

// PublishNotification writes n to its topic keyed by event id.
func (p *Producer) PublishNotification(ctx context.Context, n models.Notification) error {
	msgBytes, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	topic := TopicFor(n.Type)
	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(n.EventID),
		Value: msgBytes,
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.Logger.LogKafka("PUBLISH", topic, n.EventID)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
