package crawler

import (
	"context"
	"sync"
)

// AdvanceFunc runs once per level on the elected finisher, after every live
// worker is idle and the frontier is empty. It returns the items of the
// next level, or terminal=true when the crawl is over.
type AdvanceFunc func(ctx context.Context, level int) (next []string, terminal bool)

// LevelBarrier synchronizes the workers of one crawl at level boundaries.
//
// Workers call Await when the frontier is empty. Once every registered
// worker waits at the shared level and the frontier is still empty, the
// first one to notice is elected finisher and runs the AdvanceFunc outside
// the lock; the others sleep on a condition variable until the level
// advances, the crawl finishes, work is requeued or their context ends.
type LevelBarrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	frontier  *Frontier
	advance   AdvanceFunc
	level     int
	parties   int
	arrived   int
	advancing bool
	finished  bool
}

// NewLevelBarrier starts at level and wakes waiters whenever the frontier
// receives items.
func NewLevelBarrier(frontier *Frontier, level int, advance AdvanceFunc) *LevelBarrier {
	b := &LevelBarrier{frontier: frontier, advance: advance, level: level}
	b.cond = sync.NewCond(&b.mu)
	frontier.OnPut(b.wake)
	return b
}

func (b *LevelBarrier) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Register adds a live worker and returns the level it starts at.
func (b *LevelBarrier) Register() (level int, finished bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties++
	return b.level, b.finished
}

// Deregister removes a worker that stopped, so the others no longer wait
// for it.
func (b *LevelBarrier) Deregister() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties--
	b.cond.Broadcast()
}

// Level returns the shared level.
func (b *LevelBarrier) Level() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// Finished reports whether the terminal level completed.
func (b *LevelBarrier) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Await blocks a worker whose frontier came up empty at level. It returns
// the level to continue with, or finished=true when the crawl is over.
func (b *LevelBarrier) Await(ctx context.Context, level int) (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stop := context.AfterFunc(ctx, b.wake)
	defer stop()

	b.arrived++
	defer func() { b.arrived-- }()

	for {
		switch {
		case b.finished:
			return b.level, true, nil
		case b.level > level:
			return b.level, false, nil
		case ctx.Err() != nil:
			return level, false, ctx.Err()
		case b.advancing:
			b.cond.Wait()
		case b.frontier.Len() > 0:
			return level, false, nil
		case b.arrived >= b.parties:
			b.lead(ctx, level)
		default:
			b.cond.Wait()
		}
	}
}

// lead runs the level transition. Called and returns with b.mu held.
func (b *LevelBarrier) lead(ctx context.Context, level int) {
	b.advancing = true
	b.mu.Unlock()

	var (
		terminal bool
		advanced bool
	)
	defer func() {
		b.mu.Lock()
		b.advancing = false
		switch {
		case terminal:
			b.finished = true
		case advanced:
			b.level = level + 1
		}
		b.cond.Broadcast()
	}()

	var next []string
	next, terminal = b.advance(ctx, level)
	if terminal {
		return
	}
	b.frontier.PutAll(next)
	advanced = true
}
