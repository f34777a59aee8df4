package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// WorkerState is the lifecycle state of one worker.
type WorkerState string

// Worker states.
const (
	StateIdle          WorkerState = "idle"
	StateProcessing    WorkerState = "processing"
	StateAwaitingLevel WorkerState = "awaiting_level"
	StateFinished      WorkerState = "finished"
	StateCrashed       WorkerState = "crashed"
)

// work is the SpawnFunc of a run: log in, join the barrier and drain the
// frontier until the crawl finishes.
func (r *run) work(ctx context.Context, name string) error {
	r.setState(name, StateIdle)
	exec, err := r.sessions.Exec(ctx, name)
	if err != nil {
		r.setState(name, StateCrashed)
		return err
	}
	defer exec.Close()

	level, finished := r.barrier.Register()
	defer r.barrier.Deregister()
	if finished {
		r.setState(name, StateFinished)
		return nil
	}
	r.emit(progress.Event{Stage: progress.StageWorkerStart, Worker: name})

	w := &worker{
		name:   name,
		run:    r,
		exec:   exec,
		level:  level,
		logger: r.logger.Named("worker").With(zap.String("worker", name)),
	}
	return w.loop(ctx)
}

type worker struct {
	name    string
	run     *run
	exec    *Exec
	level   int
	current string
	logger  *zap.Logger
}

func (w *worker) loop(ctx context.Context) (err error) {
	r := w.run
	defer func() {
		if rec := recover(); rec != nil {
			item := w.current
			if item != "" {
				r.frontier.Requeue(item)
			}
			r.setState(w.name, StateCrashed)
			err = fmt.Errorf("worker %s panicked on %q: %v", w.name, item, rec)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok := r.frontier.TryTake()
		if !ok {
			r.setState(w.name, StateAwaitingLevel)
			next, finished, err := r.barrier.Await(ctx, w.level)
			if err != nil {
				return err
			}
			if finished {
				r.setState(w.name, StateFinished)
				return nil
			}
			w.level = next
			continue
		}
		if r.results.IsDone(item) {
			r.frontier.Complete(item)
			continue
		}
		r.setState(w.name, StateProcessing)
		w.current = item
		err := w.process(ctx, item)
		w.current = ""
		if err != nil {
			return err
		}
		r.setState(w.name, StateIdle)
	}
}

// process runs item through the processor and applies the retry policy.
// It returns an error only when the worker must stop.
func (w *worker) process(ctx context.Context, item string) error {
	r := w.run
	for {
		start := r.now()
		res, err := r.job.Processor.Process(ctx, w.exec, item)
		dur := max(r.now().Sub(start), 0)
		if err == nil {
			w.complete(ctx, item, res, dur)
			return nil
		}
		if ctx.Err() != nil {
			r.frontier.Requeue(item)
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionLost) {
			r.frontier.Requeue(item)
			return err
		}

		attempt := r.frontier.Attempts(item) + 1
		action := r.engine.policy.Decide(err, attempt)
		switch action {
		case ActionRenewSession:
			if rerr := w.exec.Renew(ctx, err); rerr != nil {
				r.frontier.Requeue(item)
				return rerr
			}
			continue
		case ActionMarkDone:
			w.logger.Debug("item not available", zap.String("item", item), zap.Error(err))
			w.complete(ctx, item, Result{Outcome: progress.OutcomeUnavailable}, dur)
		case ActionRequeue:
			if delay := r.engine.policy.Delay(err, attempt); delay > 0 {
				if !sleep(ctx, delay) {
					r.frontier.Requeue(item)
					return ctx.Err()
				}
			}
			r.frontier.Requeue(item)
			w.logger.Debug("item requeued", zap.String("item", item), zap.Int("attempt", attempt), zap.Error(err))
			r.emit(progress.Event{Stage: progress.StageItemRequeued, Worker: w.name, Item: item, Note: err.Error()})
		case ActionDrop:
			r.frontier.Complete(item)
			w.logger.Warn("item dropped", zap.String("item", item), zap.Int("attempt", attempt), zap.Error(err))
			r.emit(progress.Event{Stage: progress.StageItemDropped, Worker: w.name, Item: item, Note: err.Error()})
		}
		return nil
	}
}

// complete folds discoveries in, then marks item done. The order keeps a
// concurrent snapshot from losing the item.
func (w *worker) complete(ctx context.Context, item string, res Result, dur time.Duration) {
	r := w.run
	added := r.results.AddIDs(res.IDs)
	first := r.results.MarkDone(item)
	r.frontier.Complete(item)
	if !first {
		return
	}
	outcome := res.Outcome
	if outcome == "" {
		outcome = progress.OutcomeProcessed
	}
	done, discovered := r.results.Counts()
	w.logger.Info("item done",
		zap.String("item", item),
		zap.String("outcome", string(outcome)),
		zap.Int("found", len(res.IDs)),
		zap.Int("new", added),
		zap.Int("done", done),
		zap.Int("discovered", discovered),
		zap.Int("todo", r.frontier.Len()),
		zap.Int("level", w.level))
	r.emit(progress.Event{
		Stage:   progress.StageItemDone,
		Worker:  w.name,
		Item:    item,
		Outcome: outcome,
		Found:   len(res.IDs),
		Dur:     dur,
	})
	r.maybeCheckpoint(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
