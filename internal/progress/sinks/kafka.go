package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// MessageWriter abstracts kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes the same milestone documents as PubSubSink to a Kafka
// topic, keyed by run id so a run's milestones stay on one partition.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaSink wraps a MessageWriter.
func NewKafkaSink(writer MessageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// NewKafkaWriter builds a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka writer requires brokers and topic")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}, nil
}

// Consume writes milestone events as one batch; per-item events are ignored.
func (s *KafkaSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, evt := range batch {
		if !isMilestone(evt.Stage) {
			continue
		}
		msg, data, err := encodeMilestone(evt)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(msg.RunID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "stage", Value: []byte(msg.Stage)},
				{Key: "strategy", Value: []byte(msg.Strategy)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.Warn("write progress messages failed", zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("kafka write progress: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close(context.Context) error {
	if s == nil || s.writer == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
