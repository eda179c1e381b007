package history

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// DefaultMaxEntries bounds a [MemoryStore] created with a non-positive size.
const DefaultMaxEntries = 100

// MemoryStore is a bounded in-process [Store]. When full, the entry that
// started earliest is evicted.
type MemoryStore struct {
	size int

	mu      sync.Mutex
	entries map[uuid.UUID]Entry
}

// NewMemoryStore creates a store that keeps at most size entries.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	return &MemoryStore{size: size, entries: make(map[uuid.UUID]Entry)}
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.SessionID] = e
	for len(s.entries) > s.size {
		var oldest Entry
		first := true
		for _, cand := range s.entries {
			if first || cand.StartedAt.Before(oldest.StartedAt) {
				oldest, first = cand, false
			}
		}
		delete(s.entries, oldest.SessionID)
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(b.StartedAt.UnixNano(), a.StartedAt.UnixNano())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
