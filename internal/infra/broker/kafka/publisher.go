package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/yuthstyle88/108jobs-clean-sub000/internal/domain/shared/events"
)

// Publisher emits workflow milestone events to Kafka as CloudEvents so
// downstream consumers (notifications, analytics, payouts) can react to
// hiring progress without polling the marketplace API.
type Publisher struct {
	sync        sarama.SyncProducer
	topicPrefix string
	source      string
}

func NewPublisher(brokers []string, topicPrefix string, cfg *sarama.Config) (*Publisher, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect %v: %w", brokers, err)
	}
	return &Publisher{sync: sync, topicPrefix: topicPrefix, source: "app://chatd"}, nil
}

// PublishEvent wraps a domain event in a CloudEvents envelope keyed by
// the workflow id so all milestones of one job land in the same partition.
func (p *Publisher) PublishEvent(ctx context.Context, event events.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", event.EventName(), err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("kafka: encode %s: %w", event.EventName(), err)
	}
	envelope := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            event.EventName() + ".v1",
		"source":          p.source,
		"time":            event.OccurredAt(),
		"datacontenttype": "application/json",
		"data":            body,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", event.EventName(), err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topicFor(event.EventName()),
		Key:   sarama.StringEncoder(event.AggregateID()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/cloudevents+json")},
		},
	}
	if _, _, err := p.sync.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", event.EventName(), err)
	}
	return nil
}

func (p *Publisher) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if p.topicPrefix != "" {
		topic = p.topicPrefix + topic
	}
	return topic
}

func (p *Publisher) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
