package crawler

import (
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
)

// ResultStore holds the result set (discovered ids) and the done set
// (completed work items). Both only grow. One mutex guards both sets so
// snapshots are consistent.
type ResultStore struct {
	mu   sync.Mutex
	ids  Set
	done Set
}

// NewResultStore seeds the store from a snapshot.
func NewResultStore(snap checkpoint.Snapshot) *ResultStore {
	return &ResultStore{ids: NewSet(snap.IDs...), done: NewSet(snap.Done...)}
}

// AddIDs folds discoveries into the result set and returns how many were new.
func (r *ResultStore) AddIDs(ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, id := range ids {
		if id != "" && r.ids.Add(id) {
			added++
		}
	}
	return added
}

// MarkDone records a completed item. Only the first call for an item
// returns true.
func (r *ResultStore) MarkDone(item string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done.Add(item)
}

// IsDone reports whether item already completed.
func (r *ResultStore) IsDone(item string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done.Has(item)
}

// Pending filters items down to those not yet done, dropping duplicates and
// keeping the input order.
func (r *ResultStore) Pending(items []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(Set, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || r.done.Has(item) || !seen.Add(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Todo returns the discovered ids that are not done yet, sorted.
func (r *ResultStore) Todo() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Minus(r.done)
}

// Snapshot copies both sets.
func (r *ResultStore) Snapshot() checkpoint.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return checkpoint.Snapshot{Done: r.done.Sorted(), IDs: r.ids.Sorted()}
}

// SnapshotPending copies both sets and filters pending against the copied
// done set under the same lock. Callers read pending before calling, so an
// item completed in between is in Done instead of missing from both.
func (r *ResultStore) SnapshotPending(pending []string) (checkpoint.Snapshot, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(Set, len(pending))
	todo := make([]string, 0, len(pending))
	for _, item := range pending {
		if item == "" || r.done.Has(item) || !seen.Add(item) {
			continue
		}
		todo = append(todo, item)
	}
	return checkpoint.Snapshot{Done: r.done.Sorted(), IDs: r.ids.Sorted()}, todo
}

// Counts returns the sizes of the done and result sets.
func (r *ResultStore) Counts() (done, discovered int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done), len(r.ids)
}
