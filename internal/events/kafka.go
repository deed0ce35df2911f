package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"quotefeed/internal/quote"
)

// Kafka publishes quote events to a Kafka topic, keyed by record id so all
// events for one quote land in the same partition.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to the given brokers. Close releases it.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

func (p *Kafka) Publish(ctx context.Context, ev quote.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode quote event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(ev.ID, 10)),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish quote event %d: %w", ev.ID, err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Kafka) Close() {
	p.client.Close()
}
