package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Publisher sends one message to a topic and blocks until it is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
	Close() error
}

// Message is the JSON document published for each milestone event.
type Message struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Strategy   string    `json:"strategy"`
	Level      int       `json:"level"`
	Done       int       `json:"done"`
	Discovered int       `json:"discovered"`
	Frontier   int       `json:"frontier"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// PubSubSink publishes crawl milestones (start, level, checkpoint, finish)
// so downstream consumers can pick up finished snapshots.
type PubSubSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPubSubSink wraps a Publisher.
func NewPubSubSink(pub Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, logger: logger}
}

func isMilestone(stage progress.Stage) bool {
	switch stage {
	case progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError,
		progress.StageLevelDone, progress.StageCheckpoint:
		return true
	}
	return false
}

func encodeMilestone(evt progress.Event) (Message, []byte, error) {
	msg := Message{
		RunID:      evt.RunUUID().String(),
		Stage:      string(evt.Stage),
		Strategy:   evt.Strategy,
		Level:      evt.Level,
		Done:       evt.Done,
		Discovered: evt.Discovered,
		Frontier:   evt.Frontier,
		DurationMS: evt.Dur.Milliseconds(),
		Note:       evt.Note,
		Timestamp:  evt.TS,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, nil, fmt.Errorf("encode progress message: %w", err)
	}
	return msg, data, nil
}

// Consume publishes milestone events in order; per-item events are ignored.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !isMilestone(evt.Stage) {
			continue
		}
		msg, data, err := encodeMilestone(evt)
		if err != nil {
			return err
		}
		attrs := map[string]string{
			"run_id":   msg.RunID,
			"stage":    msg.Stage,
			"strategy": msg.Strategy,
		}
		if err := s.pub.Publish(ctx, data, attrs); err != nil {
			s.logger.Warn("publish progress message failed", zap.String("stage", msg.Stage), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish progress: %w", errors.Join(errs...))
	}
	return nil
}

// Close stops the publisher.
func (s *PubSubSink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}

// TopicPublisher publishes to a Google Cloud Pub/Sub topic.
type TopicPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewTopicPublisher connects to projectID and binds topicID.
func NewTopicPublisher(ctx context.Context, projectID, topicID string) (*TopicPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub publisher requires project and topic")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &TopicPublisher{client: client, topic: client.Topic(topicID)}, nil
}

// Publish sends data and waits for the server-assigned message id.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *TopicPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
