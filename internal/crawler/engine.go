package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	idgen "github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// ErrPoolExhausted is returned when every worker slot was given up before
// the crawl finished.
var ErrPoolExhausted = errors.New("crawl stopped: worker crash budget spent")

const finalSaveTimeout = 30 * time.Second

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Result is what processing one work item produced.
type Result struct {
	// IDs are the discovered identifiers, duplicates allowed.
	IDs []string
	// Outcome defaults to progress.OutcomeProcessed.
	Outcome progress.Outcome
}

// Processor handles one work item with the calling worker's executor.
type Processor interface {
	Process(ctx context.Context, exec *Exec, item string) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, exec *Exec, item string) (Result, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, exec *Exec, item string) (Result, error) {
	return f(ctx, exec, item)
}

// Config holds the engine tunables.
type Config struct {
	Workers            int
	MaxItemAttempts    int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ReloginBackoff     time.Duration
	ReloginMaxAttempts int
	RespawnDelay       time.Duration
	MaxCrashes         int
}

// Job describes one crawl.
type Job struct {
	Strategy string
	// Name is the checkpoint base name; empty disables checkpoints.
	Name  string
	Seeds []string
	// Depth is the last breadth-first level to process. Flat crawls use 0.
	Depth int
	// CheckpointEvery writes the tmp snapshot after this many completions;
	// 0 disables the rolling snapshot.
	CheckpointEvery int
	Processor       Processor
}

// Report summarizes a finished or interrupted crawl.
type Report struct {
	RunID           uuid.UUID
	Level           int
	Done            []string
	IDs             []string
	Resumed         bool
	AlreadyComplete bool
	Pool            SupervisorStats
}

// Engine runs crawl jobs.
type Engine struct {
	cfg     Config
	auth    catalog.Authenticator
	store   checkpoint.Store
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	policy  *RetryPolicy
	logger  *zap.Logger

	current atomic.Pointer[run]
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// New builds an engine. store may be nil to run without checkpoints.
func New(cfg Config, auth catalog.Authenticator, store checkpoint.Store, emitter progress.Emitter, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		auth:    auth,
		store:   store,
		emitter: emitter,
		clock:   system.New(),
		ids:     idgen.New(),
		policy:  NewRetryPolicy(cfg.MaxItemAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger:  logger.Named("crawler"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes job until its last level completes, the pool is exhausted or
// ctx ends. An interrupted crawl leaves a tmp snapshot to resume from; a
// crawl whose final snapshot exists returns immediately.
func (e *Engine) Run(ctx context.Context, job Job) (Report, error) {
	if job.Processor == nil {
		return Report{}, errors.New("crawl job requires a processor")
	}
	if job.Depth < 0 {
		return Report{}, fmt.Errorf("invalid crawl depth %d", job.Depth)
	}
	runID, err := e.ids.NewRawID()
	if err != nil {
		return Report{}, fmt.Errorf("run id: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID.String()), zap.String("strategy", job.Strategy))
	ckpt := NewCheckpointer(e.store, job.Name, logger)

	final, ok, err := ckpt.LoadFinal(ctx)
	if err != nil {
		return Report{RunID: runID}, err
	}
	if ok {
		logger.Info("crawl already complete",
			zap.String("checkpoint", job.Name),
			zap.Int("done", len(final.Done)),
			zap.Int("discovered", len(final.IDs)))
		return Report{RunID: runID, Level: final.Level, Done: final.Done, IDs: final.IDs, AlreadyComplete: true}, nil
	}

	snap, resumed, err := ckpt.LoadTmp(ctx)
	if err != nil {
		return Report{RunID: runID}, err
	}
	results := NewResultStore(snap)
	level := 0
	initial := job.Seeds
	if resumed && job.Depth > 0 && snap.Level > 0 {
		level = min(snap.Level, job.Depth)
		initial = snap.Frontier
	}
	frontier := NewFrontier(results.Pending(initial)...)

	r := &run{
		id:       runID,
		job:      job,
		engine:   e,
		logger:   logger,
		results:  results,
		frontier: frontier,
		ckpt:     ckpt,
		started:  e.clock.Now(),
		every:    int64(job.CheckpointEvery),
		states:   make(map[string]WorkerState),
	}
	r.barrier = NewLevelBarrier(frontier, level, r.advance)
	r.sessions = NewSessionManager(e.auth, SessionConfig{
		Backoff:     e.cfg.ReloginBackoff,
		MaxAttempts: e.cfg.ReloginMaxAttempts,
	}, logger)
	r.sessions.OnRenew(r.onRenew)
	ckpt.OnSave(r.onCheckpoint)
	e.current.Store(r)

	done, discovered := results.Counts()
	logger.Info("crawl starting",
		zap.Bool("resumed", resumed),
		zap.Int("level", level),
		zap.Int("depth", job.Depth),
		zap.Int("done", done),
		zap.Int("discovered", discovered),
		zap.Int("todo", frontier.Len()),
		zap.Int("workers", e.cfg.Workers))
	r.emit(progress.Event{Stage: progress.StageCrawlStart})

	sup := NewSupervisor(SupervisorConfig{
		Workers:      e.cfg.Workers,
		RespawnDelay: e.cfg.RespawnDelay,
		MaxCrashes:   e.cfg.MaxCrashes,
		OnCrash:      r.onCrash,
	}, r.work, logger)
	r.running.Store(true)
	stats, runErr := sup.Run(ctx)
	r.running.Store(false)

	report := r.report(stats, resumed)
	if !r.barrier.Finished() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
		defer cancel()
		if err := ckpt.SaveTmp(saveCtx, r.tmpSnapshot()); err != nil {
			logger.Error("saving checkpoint after interruption failed", zap.Error(err))
		}
		if runErr == nil {
			runErr = fmt.Errorf("%w (%d crashes)", ErrPoolExhausted, stats.Crashes)
		}
		r.emit(progress.Event{Stage: progress.StageCrawlError, Dur: r.elapsed(), Note: runErr.Error()})
		return report, runErr
	}

	if !r.finalSaved.Load() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
		defer cancel()
		snap := results.Snapshot()
		snap.Level = report.Level
		if err := ckpt.SaveFinal(saveCtx, snap); err != nil {
			r.emit(progress.Event{Stage: progress.StageCrawlError, Dur: r.elapsed(), Note: err.Error()})
			return report, err
		}
	}
	logger.Info("crawl complete",
		zap.Int("level", report.Level),
		zap.Int("done", len(report.Done)),
		zap.Int("discovered", len(report.IDs)),
		zap.Int("crashes", stats.Crashes))
	r.emit(progress.Event{Stage: progress.StageCrawlDone, Dur: r.elapsed()})
	return report, nil
}

// run is the shared state of one Engine.Run.
type run struct {
	id       uuid.UUID
	job      Job
	engine   *Engine
	logger   *zap.Logger
	results  *ResultStore
	frontier *Frontier
	barrier  *LevelBarrier
	ckpt     *Checkpointer
	sessions *SessionManager
	started  time.Time

	every       int64
	completions atomic.Int64
	finalSaved  atomic.Bool
	running     atomic.Bool

	mu     sync.Mutex
	states map[string]WorkerState
}

func (r *run) now() time.Time {
	return r.engine.clock.Now()
}

func (r *run) elapsed() time.Duration {
	return max(r.now().Sub(r.started), 0)
}

// emit stamps evt with the run identity and the current counters.
func (r *run) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.id)
	evt.TS = r.now()
	evt.Strategy = r.job.Strategy
	if evt.Level == 0 {
		evt.Level = r.barrier.Level()
	}
	evt.Done, evt.Discovered = r.results.Counts()
	if evt.Frontier == 0 {
		evt.Frontier = r.frontier.Len()
	}
	r.engine.emitter.Emit(evt)
}

func (r *run) setState(worker string, state WorkerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[worker] = state
}

// advance is the barrier transition for level.
func (r *run) advance(ctx context.Context, level int) ([]string, bool) {
	snap := r.results.Snapshot()
	next := level + 1
	if next > r.job.Depth {
		snap.Level = level
		if err := r.ckpt.SaveFinal(ctx, snap); err != nil {
			r.logger.Warn("final checkpoint failed", zap.Error(err))
		} else {
			r.finalSaved.Store(true)
		}
		r.logger.Info("last level done",
			zap.Int("level", level),
			zap.Int("done", len(snap.Done)),
			zap.Int("discovered", len(snap.IDs)))
		r.emit(progress.Event{Stage: progress.StageLevelDone, Level: level})
		return nil, true
	}

	todo := r.results.Todo()
	snap.Level = next
	snap.Frontier = todo
	if err := r.ckpt.SaveLevel(ctx, next, snap); err != nil {
		r.logger.Warn("level checkpoint failed", zap.Int("level", next), zap.Error(err))
	}
	if err := r.ckpt.SaveTmp(ctx, snap); err != nil {
		r.logger.Warn("tmp checkpoint failed", zap.Error(err))
	}
	r.logger.Info("level done",
		zap.Int("level", level),
		zap.Int("done", len(snap.Done)),
		zap.Int("discovered", len(snap.IDs)),
		zap.Int("next_level_todo", len(todo)))
	r.emit(progress.Event{Stage: progress.StageLevelDone, Level: level, Frontier: len(todo)})
	return todo, false
}

// tmpSnapshot captures the frontier before the result sets. Workers mark an
// item done before releasing it from the frontier, so every item pending at
// capture time ends up in Done or Frontier.
func (r *run) tmpSnapshot() checkpoint.Snapshot {
	if r.job.Depth == 0 {
		return r.results.Snapshot()
	}
	pending := r.frontier.Pending()
	level := r.barrier.Level()
	snap, todo := r.results.SnapshotPending(pending)
	snap.Level = level
	snap.Frontier = todo
	return snap
}

func (r *run) maybeCheckpoint(ctx context.Context) {
	n := r.completions.Add(1)
	if r.every <= 0 || n%r.every != 0 {
		return
	}
	if err := r.ckpt.SaveTmp(ctx, r.tmpSnapshot()); err != nil {
		r.logger.Warn("tmp checkpoint failed", zap.Error(err))
	}
}

func (r *run) onCheckpoint(name string, snap checkpoint.Snapshot) {
	r.emit(progress.Event{Stage: progress.StageCheckpoint, Note: name})
}

func (r *run) onRenew(worker string, cause error) {
	r.emit(progress.Event{Stage: progress.StageRelogin, Worker: worker, Note: cause.Error()})
}

func (r *run) onCrash(worker string, err error) {
	r.setState(worker, StateCrashed)
	r.emit(progress.Event{Stage: progress.StageWorkerCrash, Worker: worker, Note: err.Error()})
}

func (r *run) report(stats SupervisorStats, resumed bool) Report {
	snap := r.results.Snapshot()
	return Report{
		RunID:   r.id,
		Level:   r.barrier.Level(),
		Done:    snap.Done,
		IDs:     snap.IDs,
		Resumed: resumed,
		Pool:    stats,
	}
}
