// Package events publishes auth events and drains them into the audit sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"food-auth-service/internal/model"
)

// Publisher emits auth events. Callers treat failures as best-effort.
type Publisher interface {
	Publish(ctx context.Context, event model.AuthEvent) error
	Close() error
}

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, model.AuthEvent) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

// KafkaPublisher writes events as JSON keyed by user so one user's events stay ordered.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaPublisher(producer MessageProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event model.AuthEvent) error {
	Stamp(&event, time.Now())

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode auth event: %w", err)
	}

	headers := map[string]string{"event-type": event.Type}
	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(PartitionKey(event)), value, headers); err != nil {
		return fmt.Errorf("failed to publish auth event %s: %w", event.Type, err)
	}

	p.logger.Debug("Auth event published",
		zap.String("event_id", event.EventID),
		zap.String("type", event.Type))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Stamp fills the event id and time when unset.
func Stamp(event *model.AuthEvent, now time.Time) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now.UTC()
	}
}

// PartitionKey prefers the user, then the phone hash, then the event id.
func PartitionKey(event model.AuthEvent) string {
	switch {
	case event.UserID != "":
		return event.UserID
	case event.PhoneHash != "":
		return event.PhoneHash
	default:
		return event.EventID
	}
}
