// Package events publishes best-effort domain events (conversation ingested,
// insight created) to Kafka. A publish failure is logged and swallowed: the
// event stream is an observability aid, never a correctness dependency.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	TopicConversationIngested = "conversation.ingested"
	TopicInsightCreated       = "insight.created"
)

// Publisher writes JSON-encoded events to Kafka.
type Publisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

// New builds a Publisher against the given brokers. The topic is set
// per-message rather than on the writer so one Publisher serves both event
// types.
func New(brokers []string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 5 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

// Publish best-effort writes a JSON-encoded event to topic, keyed by key.
func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.WithError(err).Warn("events: marshal failed")
		}
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("topic", topic).Warn("events: publish failed")
	}
}

// ConversationIngested publishes a conversation.ingested event.
func (p *Publisher) ConversationIngested(ctx context.Context, conversationID, rootExternalID string, messageCount int) {
	p.Publish(ctx, TopicConversationIngested, conversationID, map[string]any{
		"conversation_id":  conversationID,
		"root_external_id": rootExternalID,
		"message_count":    messageCount,
		"at":               time.Now().UTC(),
	})
}

// InsightCreated publishes an insight.created event.
func (p *Publisher) InsightCreated(ctx context.Context, conversationID string, sentiment *string, skippedReason *string) {
	p.Publish(ctx, TopicInsightCreated, conversationID, map[string]any{
		"conversation_id": conversationID,
		"sentiment":       sentiment,
		"skipped_reason":  skippedReason,
		"at":              time.Now().UTC(),
	})
}

// Close flushes and closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
