package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/tomato-food/api/internal/services"
)

// KafkaProducer is the subset of *kgo.Client used by KafkaOrderEventPublisher.
type KafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaOrderEventPublisher publishes order domain events to a Kafka topic keyed by order id,
// so every event of one order lands on the same partition.
type KafkaOrderEventPublisher struct {
	client KafkaProducer
	topic  string
}

// NewKafkaOrderEventPublisher dials the brokers lazily; connection errors surface on first publish.
func NewKafkaOrderEventPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaOrderEventPublisher, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka order publisher: at least one broker is required")
	}

	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka order publisher: create client: %w", err)
	}
	return NewKafkaOrderEventPublisherWithClient(client, topic)
}

// NewKafkaOrderEventPublisherWithClient wraps an existing producer.
func NewKafkaOrderEventPublisherWithClient(client KafkaProducer, topic string) (*KafkaOrderEventPublisher, error) {
	if client == nil {
		return nil, errors.New("kafka order publisher: client is required")
	}
	return &KafkaOrderEventPublisher{client: client, topic: strings.TrimSpace(topic)}, nil
}

// PublishOrderEvent produces one record and waits for the broker acknowledgement.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.client == nil {
		return errors.New("kafka order publisher: not initialised")
	}

	data, attrs, err := encodeOrderEvent(event)
	if err != nil {
		return err
	}

	headers := make([]kgo.RecordHeader, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(event.OrderID),
		Value:     data,
		Headers:   headers,
		Timestamp: event.OccurredAt.UTC(),
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish order event %s to %s: %w", event.Type, p.topic, err)
	}
	return nil
}

// Close flushes buffered records and releases broker connections.
func (p *KafkaOrderEventPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Close()
	return nil
}
