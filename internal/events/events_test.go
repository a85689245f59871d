package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ajharbinger/dilution-monitor/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_PublishTierChanges(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: DefaultTierTopic}

	score := 88.5
	runID := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishTierChanges(context.Background(), []TierChanged{
		{Ticker: "ACME", PreviousTier: models.TierWatchlist, Tier: models.TierCritical, Composite: &score, RunID: runID, At: at},
		{Ticker: "XYZ", PreviousTier: models.TierInactive, Tier: models.TierMonitoring, RunID: runID, At: at},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "ACME" {
		t.Errorf("expected ticker as key, got %q", w.msgs[0].Key)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("invalid JSON payload: %v", err)
	}
	if decoded["previous_tier"] != "watchlist" || decoded["tier"] != "critical" || decoded["composite"] != 88.5 {
		t.Errorf("unexpected payload %v", decoded)
	}
	if decoded["run_id"] != runID.String() {
		t.Errorf("expected run_id %s, got %v", runID, decoded["run_id"])
	}
}

func TestKafkaPublisher_EmptyAndErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, topic: "t"}

	if err := p.PublishTierChanges(context.Background(), nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
	if err := p.PublishTierChanges(context.Background(), []TierChanged{{Ticker: "A"}}); err == nil {
		t.Error("expected writer error to propagate")
	}
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, ""); err == nil {
		t.Error("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.topic != DefaultTierTopic {
		t.Errorf("expected default topic, got %s", p.topic)
	}
	_ = p.Close()
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.PublishTierChanges(context.Background(), []TierChanged{{Ticker: "A"}}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
