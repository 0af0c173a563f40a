// Package events publishes query analytics to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

// QueryEvent is the message published for every answered question.
type QueryEvent struct {
	ID               string    `json:"id"`
	Query            string    `json:"query"`
	Provider         string    `json:"provider"`
	Outcome          string    `json:"outcome"`
	ChunksRetrieved  int       `json:"chunks_retrieved"`
	CacheHit         bool      `json:"cache_hit"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes query records to a topic, keyed by record id.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w, topic)
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: slog.Default().With("component", "kafka_publisher", "topic", topic),
	}
}

// RecordQuery publishes rec as a QueryEvent. The answer text is not
// published.
func (p *KafkaPublisher) RecordQuery(ctx context.Context, rec *repository.QueryRecord) error {
	value, err := json.Marshal(QueryEvent{
		ID:               rec.ID.String(),
		Query:            rec.Query,
		Provider:         rec.Provider,
		Outcome:          rec.Outcome,
		ChunksRetrieved:  rec.ChunksRetrieved,
		CacheHit:         rec.CacheHit,
		ProcessingTimeMS: rec.ProcessingTimeMS,
		CreatedAt:        rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling query event: %w", err)
	}

	msg := kafka.Message{Key: []byte(rec.ID.String()), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("query_event_publish_failed", "id", rec.ID, "error", err)
		return fmt.Errorf("publishing query event: %w", err)
	}
	p.logger.Debug("query_event_published", "id", rec.ID, "value_size", len(value))
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
