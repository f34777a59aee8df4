package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded snapshots in memory. It stores the encoded
// document so loads return independent copies.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte), saves: make(map[string]int)}
}

// Load returns a decoded copy of the stored snapshot.
func (s *MemoryStore) Load(_ context.Context, name string) (Snapshot, bool, error) {
	s.mu.Lock()
	data, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false, nil
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save stores an encoded copy of snap.
func (s *MemoryStore) Save(_ context.Context, name string, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = data
	s.saves[name]++
	return nil
}

// Saves returns how many times name was written.
func (s *MemoryStore) Saves(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[name]
}

// Names returns the names with a stored snapshot.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for name := range s.docs {
		out = append(out, name)
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
