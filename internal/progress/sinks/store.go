package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Counter updates
// within a batch collapse to the latest snapshot per run.
type StoreSink struct {
	repo   store.RunRepository
	output string
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository. output is
// recorded as the base name of runs started through this sink.
func NewStoreSink(repo store.RunRepository, output string, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, output: output, logger: logger}
}

// Consume forwards run lifecycle events and the newest counters to the
// repository. It returns repository errors wrapped with the failing call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]store.RunProgress)
	var order []uuid.UUID

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageCrawlStart:
			run := store.Run{
				ID:         runID,
				Strategy:   evt.Strategy,
				Output:     s.output,
				StartedAt:  evt.TS,
				Status:     store.RunRunning,
				Level:      evt.Level,
				Done:       evt.Done,
				Discovered: evt.Discovered,
				UpdatedAt:  evt.TS,
			}
			if err := s.repo.StartRun(ctx, run); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageCrawlDone, progress.StageCrawlError:
			if err := s.flushProgress(ctx, latest, order); err != nil {
				return err
			}
			latest = make(map[uuid.UUID]store.RunProgress)
			order = nil
			if err := s.updateProgress(ctx, runID, snapshotOf(evt)); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageCrawlError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageItemDone, progress.StageLevelDone, progress.StageCheckpoint:
			if _, seen := latest[runID]; !seen {
				order = append(order, runID)
			}
			latest[runID] = mergeProgress(latest[runID], snapshotOf(evt))
		}
	}
	return s.flushProgress(ctx, latest, order)
}

func (s *StoreSink) flushProgress(ctx context.Context, latest map[uuid.UUID]store.RunProgress, order []uuid.UUID) error {
	for _, runID := range order {
		if err := s.updateProgress(ctx, runID, latest[runID]); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) updateProgress(ctx context.Context, runID uuid.UUID, p store.RunProgress) error {
	if err := s.repo.UpdateProgress(ctx, runID, p); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func snapshotOf(evt progress.Event) store.RunProgress {
	return store.RunProgress{Level: evt.Level, Done: evt.Done, Discovered: evt.Discovered, At: evt.TS}
}

// mergeProgress keeps the maximum of each counter; events from concurrent
// workers can arrive slightly out of order.
func mergeProgress(cur, next store.RunProgress) store.RunProgress {
	return store.RunProgress{
		Level:      max(cur.Level, next.Level),
		Done:       max(cur.Done, next.Done),
		Discovered: max(cur.Discovered, next.Discovered),
		At:         laterOf(cur.At, next.At),
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
