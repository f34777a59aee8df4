// Package checkpoint persists crawl snapshots so an interrupted crawl can
// resume where it stopped.
//
// A snapshot is the JSON document {"done": [...], "ids": [...]}: the work
// items already processed and every item id discovered so far. Leveled
// crawls add the current level and the frontier of that level; the final
// snapshot of a crawl is flagged complete. Readers that only know the two
// base keys keep working with extended documents.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Snapshot is the persisted state of one crawl.
type Snapshot struct {
	Done     []string `json:"done"`
	IDs      []string `json:"ids"`
	Level    int      `json:"level,omitempty"`
	Frontier []string `json:"frontier,omitempty"`
	Complete bool     `json:"complete,omitempty"`
}

// Store loads and saves snapshots by name. Save must replace the previous
// snapshot of the same name atomically: a reader sees either the old or
// the new document, never a partial one.
type Store interface {
	Load(ctx context.Context, name string) (Snapshot, bool, error)
	Save(ctx context.Context, name string, snap Snapshot) error
	Close() error
}

// Encode renders a snapshot. Sets are sorted so equal snapshots produce
// equal documents.
func Encode(snap Snapshot) ([]byte, error) {
	out := Snapshot{
		Done:     sortedCopy(snap.Done),
		IDs:      sortedCopy(snap.IDs),
		Level:    snap.Level,
		Frontier: snap.Frontier,
		Complete: snap.Complete,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot document.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Done == nil {
		snap.Done = []string{}
	}
	if snap.IDs == nil {
		snap.IDs = []string{}
	}
	return snap, nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	slices.Sort(out)
	return out
}

// TmpName is the rolling snapshot written while a crawl is in progress.
func TmpName(base string) string {
	return base + "_tmp"
}

// LevelName is the snapshot written when a level completes.
func LevelName(base string, level int) string {
	return fmt.Sprintf("%s_level-%d", base, level)
}
