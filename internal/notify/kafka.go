package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes execution events as JSON, keyed by exchange and symbol.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a producer for topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			WriteBackoffMin:        100 * time.Millisecond,
			WriteBackoffMax:        time.Second,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg.Event())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.key()),
		Value: value,
		Time:  msg.Time,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(msg.Kind)},
		},
	})
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
