// Package ingest publishes position samples to Kafka so the consumer
// process can be the shared-storage writer in larger deployments.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/itsshri/NightSafe/internal/models"
)

// Sample is the wire format on the position-samples topic.
type Sample struct {
	Identity string          `json:"identity"`
	Position models.Position `json:"position"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishSample implements publisher.LocationSink. Keyed by identity
// so one identity's samples stay ordered within a partition.
func (k *KafkaProducer) PublishSample(identity string, p models.Position) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(Sample{Identity: identity, Position: p})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(identity), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
