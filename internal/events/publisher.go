// Package events publishes finalized captions to Kafka for downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/pkg/logger"
)

// CaptionEvent is the message body written to the captions topic.
type CaptionEvent struct {
	CallSID          string    `json:"call_sid"`
	Text             string    `json:"text"`
	SequenceID       string    `json:"sequence_id,omitempty"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher writes caption events to a Kafka topic. A nil Publisher is
// valid and drops everything, so callers need no enabled checks.
type Publisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewPublisher creates a Kafka publisher, or nil when events are disabled.
func NewPublisher(cfg config.EventsConfig, log *logger.Logger) *Publisher {
	if !cfg.Enabled {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}

	return &Publisher{
		writer: writer,
		logger: log.Named("events"),
	}
}

// PublishCaption keys the event by call SID so a call's captions stay
// ordered within a partition.
func (p *Publisher) PublishCaption(ctx context.Context, event CaptionEvent) error {
	if p == nil {
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal caption event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CallSID),
		Value: value,
	})
	if err != nil {
		p.logger.Error("Failed to publish caption event",
			logger.String("call_sid", event.CallSID),
			logger.Error(err))
		return fmt.Errorf("failed to publish caption event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
