package crawler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
)

// Checkpointer writes the snapshots of one crawl under its base name: the
// rolling tmp snapshot, one snapshot per level and the final one. Writes are
// serialized, and a snapshot holding fewer done items or ids than the last
// one written under the same name is skipped.
type Checkpointer struct {
	store  checkpoint.Store
	base   string
	logger *zap.Logger

	mu     sync.Mutex
	last   map[string]sizes
	onSave func(name string, snap checkpoint.Snapshot)
}

type sizes struct {
	done, ids int
}

// NewCheckpointer binds store to base. A nil store or empty base disables
// checkpointing; every method then succeeds without effect.
func NewCheckpointer(store checkpoint.Store, base string, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpointer{store: store, base: base, logger: logger, last: make(map[string]sizes)}
}

func (c *Checkpointer) enabled() bool {
	return c != nil && c.store != nil && c.base != ""
}

// Base returns the final snapshot name.
func (c *Checkpointer) Base() string {
	return c.base
}

// OnSave registers a callback that runs after each successful write.
func (c *Checkpointer) OnSave(fn func(name string, snap checkpoint.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSave = fn
}

// LoadFinal returns the final snapshot if the crawl already completed.
func (c *Checkpointer) LoadFinal(ctx context.Context) (checkpoint.Snapshot, bool, error) {
	return c.load(ctx, c.base)
}

// LoadTmp returns the rolling snapshot of an interrupted crawl.
func (c *Checkpointer) LoadTmp(ctx context.Context) (checkpoint.Snapshot, bool, error) {
	return c.load(ctx, checkpoint.TmpName(c.base))
}

func (c *Checkpointer) load(ctx context.Context, name string) (checkpoint.Snapshot, bool, error) {
	if !c.enabled() {
		return checkpoint.Snapshot{}, false, nil
	}
	snap, ok, err := c.store.Load(ctx, name)
	if err != nil {
		return checkpoint.Snapshot{}, false, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	if ok {
		c.mu.Lock()
		c.last[name] = sizes{done: len(snap.Done), ids: len(snap.IDs)}
		c.mu.Unlock()
	}
	return snap, ok, nil
}

// SaveTmp writes the rolling snapshot.
func (c *Checkpointer) SaveTmp(ctx context.Context, snap checkpoint.Snapshot) error {
	return c.save(ctx, checkpoint.TmpName(c.base), snap)
}

// SaveLevel writes the snapshot taken when level starts.
func (c *Checkpointer) SaveLevel(ctx context.Context, level int, snap checkpoint.Snapshot) error {
	return c.save(ctx, checkpoint.LevelName(c.base, level), snap)
}

// SaveFinal writes the complete snapshot under the base name.
func (c *Checkpointer) SaveFinal(ctx context.Context, snap checkpoint.Snapshot) error {
	snap.Complete = true
	snap.Frontier = nil
	return c.save(ctx, c.base, snap)
}

func (c *Checkpointer) save(ctx context.Context, name string, snap checkpoint.Snapshot) error {
	if !c.enabled() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := sizes{done: len(snap.Done), ids: len(snap.IDs)}
	if prev, ok := c.last[name]; ok && (cur.done < prev.done || cur.ids < prev.ids) {
		c.logger.Debug("skipping stale checkpoint",
			zap.String("name", name),
			zap.Int("done", cur.done), zap.Int("last_done", prev.done),
			zap.Int("ids", cur.ids), zap.Int("last_ids", prev.ids))
		return nil
	}
	if err := c.store.Save(ctx, name, snap); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	c.last[name] = cur
	c.logger.Debug("checkpoint written", zap.String("name", name), zap.Int("done", cur.done), zap.Int("ids", cur.ids))
	if c.onSave != nil {
		c.onSave(name, snap)
	}
	return nil
}
