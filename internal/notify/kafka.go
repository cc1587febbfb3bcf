package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter publishes events keyed by recipient so one user's events stay
// ordered on a single partition.
type KafkaEmitter struct {
	writer *kafka.Writer
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaEmitter{writer: w}
}

func (k *KafkaEmitter) Emit(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.UserID), Value: b})
}

func (k *KafkaEmitter) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
