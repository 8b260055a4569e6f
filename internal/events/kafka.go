package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

const produceTimeout = 5 * time.Second

// KafkaSink produces one JSON record per event, keyed by thread id so all
// events of a thread land on the same partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink creates a producer for cfg.Brokers.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID("threadpost"),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Emit(ctx context.Context, ev models.ThreadEvent) error {
	rec, err := newRecord(s.topic, ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()

	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("producing %s event: %w", ev.Type, err)
	}
	return nil
}

// Ping checks that at least one broker is reachable.
func (s *KafkaSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka ping: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}

func newRecord(topic string, ev models.ThreadEvent) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.ThreadID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
