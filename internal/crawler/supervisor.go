package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SpawnFunc runs one worker until it exits. A nil error means the worker
// finished because the crawl is over; anything else is a crash.
type SpawnFunc func(ctx context.Context, name string) error

// SupervisorConfig controls the pool.
type SupervisorConfig struct {
	Workers int
	// RespawnDelay is the wait before replacing a crashed worker (default 1s).
	RespawnDelay time.Duration
	// MaxCrashes bounds replacements over the whole run; 0 means unlimited.
	MaxCrashes int
	// OnCrash observes each crash.
	OnCrash func(name string, err error)
}

// SupervisorStats summarizes a pool run.
type SupervisorStats struct {
	Started  int
	Finished int
	Crashes  int
	Lost     int
}

// Supervisor keeps Workers workers alive until each of them finished.
type Supervisor struct {
	cfg    SupervisorConfig
	spawn  SpawnFunc
	logger *zap.Logger
}

type workerExit struct {
	name string
	err  error
}

// NewSupervisor builds a pool around spawn.
func NewSupervisor(cfg SupervisorConfig, spawn SpawnFunc, logger *zap.Logger) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RespawnDelay <= 0 {
		cfg.RespawnDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, spawn: spawn, logger: logger.Named("supervisor")}
}

// Run starts the pool and blocks until no worker is left. Crashed workers
// are replaced after RespawnDelay unless the crash budget is spent, in which
// case the slot is given up. Run returns ctx's error if ctx ended first.
func (s *Supervisor) Run(ctx context.Context) (SupervisorStats, error) {
	var (
		stats   SupervisorStats
		seq     int
		live    int
		waiting int
	)
	exits := make(chan workerExit)
	respawn := make(chan struct{})

	start := func() {
		seq++
		live++
		stats.Started++
		name := fmt.Sprintf("worker-%d", seq)
		go func() {
			exits <- workerExit{name: name, err: s.spawn(ctx, name)}
		}()
	}

	for range s.cfg.Workers {
		start()
	}

	for live > 0 || waiting > 0 {
		select {
		case ex := <-exits:
			live--
			switch {
			case ex.err == nil:
				stats.Finished++
			case ctx.Err() != nil:
				s.logger.Debug("worker stopped", zap.String("worker", ex.name), zap.Error(ex.err))
			default:
				stats.Crashes++
				s.logger.Warn("worker crashed", zap.String("worker", ex.name), zap.Error(ex.err))
				if s.cfg.OnCrash != nil {
					s.cfg.OnCrash(ex.name, ex.err)
				}
				if s.cfg.MaxCrashes > 0 && stats.Crashes > s.cfg.MaxCrashes {
					stats.Lost++
					s.logger.Error("crash budget spent, not replacing worker",
						zap.String("worker", ex.name), zap.Int("crashes", stats.Crashes))
					continue
				}
				waiting++
				go func() {
					t := time.NewTimer(s.cfg.RespawnDelay)
					defer t.Stop()
					select {
					case <-t.C:
					case <-ctx.Done():
					}
					respawn <- struct{}{}
				}()
			}
		case <-respawn:
			waiting--
			if ctx.Err() == nil {
				start()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("supervisor: %w", err)
	}
	return stats, nil
}
