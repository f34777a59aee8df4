package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink writes progress events as structured logs. Per-item events are
// logged at debug level; milestones at info; crashes and drops at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageItemDone, progress.StageItemRequeued, progress.StageWorkerStart:
		return zapcore.DebugLevel
	case progress.StageWorkerCrash, progress.StageItemDropped, progress.StageCrawlError, progress.StageRelogin:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(levelFor(evt.Stage), "progress event")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("strategy", evt.Strategy),
			zap.Int("level", evt.Level),
			zap.Int("done", evt.Done),
			zap.Int("discovered", evt.Discovered),
			zap.Int("frontier", evt.Frontier),
		}
		if evt.Worker != "" {
			fields = append(fields, zap.String("worker", evt.Worker))
		}
		if evt.Item != "" {
			fields = append(fields, zap.String("item", evt.Item), zap.Int("found", evt.Found))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
