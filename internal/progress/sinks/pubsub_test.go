package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

type fakePublisher struct {
	msgs   [][]byte
	attrs  []map[string]string
	err    error
	closed bool
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, attrs map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, data)
	f.attrs = append(f.attrs, attrs)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestPubSubSinkPublishesMilestones(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewPubSubSink(pub, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageCrawlStart, Strategy: "search"},
		{RunID: runID, TS: now, Stage: progress.StageItemDone, Strategy: "search", Item: "a"},
		{RunID: runID, TS: now, Stage: progress.StageCheckpoint, Strategy: "search", Done: 2, Note: "out_tmp"},
	}))

	require.Len(t, pub.msgs, 2)
	var msg Message
	require.NoError(t, json.Unmarshal(pub.msgs[1], &msg))
	assert.Equal(t, runUUID.String(), msg.RunID)
	assert.Equal(t, "CHECKPOINT", msg.Stage)
	assert.Equal(t, 2, msg.Done)
	assert.Equal(t, "out_tmp", msg.Note)
	assert.Equal(t, "search", pub.attrs[0]["strategy"])

	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, pub.closed)
}

func TestPubSubSinkReportsPublishErrors(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{err: errors.New("unavailable")}
	sink := NewPubSubSink(pub, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageCrawlDone},
	})
	require.Error(t, err)
}

func TestNewTopicPublisherRequiresNames(t *testing.T) {
	t.Parallel()

	_, err := NewTopicPublisher(context.Background(), "", "topic")
	require.Error(t, err)
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageItemDone, Item: "a", Outcome: progress.OutcomeProcessed},
		{Stage: progress.StageWorkerCrash, Worker: "worker-1", Note: "panic"},
	}))
	require.NoError(t, sink.Close(context.Background()))
}
