// Package events publishes tier transitions to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// DefaultTierTopic is used when KAFKA_TIER_TOPIC is unset
const DefaultTierTopic = "dilution.tier-changes"

// TierChanged is emitted for every entity whose tier moved in a tiering pass
type TierChanged struct {
	Ticker       string      `json:"ticker"`
	PreviousTier models.Tier `json:"previous_tier"`
	Tier         models.Tier `json:"tier"`
	Composite    *float64    `json:"composite"`
	RunID        uuid.UUID   `json:"run_id"`
	At           time.Time   `json:"at"`
}

// Publisher delivers tier change events
type Publisher interface {
	PublishTierChanges(ctx context.Context, events []TierChanged) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by ticker so one entity's history stays ordered
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if topic == "" {
		topic = DefaultTierTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: time.Second,
	}
	return &KafkaPublisher{writer: w, topic: topic}, nil
}

// PublishTierChanges writes all events in one batch
func (p *KafkaPublisher) PublishTierChanges(ctx context.Context, events []TierChanged) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal tier event for %s: %w", e.Ticker, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Ticker), Value: v, Time: e.At})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d tier events to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events; used when no brokers are configured
type NopPublisher struct{}

func (NopPublisher) PublishTierChanges(context.Context, []TierChanged) error { return nil }
func (NopPublisher) Close() error                                            { return nil }
