package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

// MemoryStore is an in-process Store; a single mutex makes every method atomic
type MemoryStore struct {
	mu    sync.Mutex
	heads map[string]*Head
}

// NewMemoryStore creates an empty head store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{heads: make(map[string]*Head)}
}

// Create stores a new head
func (s *MemoryStore) Create(ctx context.Context, h *Head) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heads[h.DocumentID]; ok {
		return fmt.Errorf("%w: document %s", storage.ErrExists, h.DocumentID)
	}
	s.heads[h.DocumentID] = h.Clone()
	return nil
}

// Get returns a copy of the head
func (s *MemoryStore) Get(ctx context.Context, documentID string) (*Head, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.heads[documentID]
	if !ok {
		return nil, notFound(documentID)
	}
	return h.Clone(), nil
}

// List returns all document ids
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.heads))
	for id := range s.heads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Advance appends a version under the compare-and-set guard
func (s *MemoryStore) Advance(ctx context.Context, documentID string, a Advance) (*Head, error) {
	var out *Head
	err := s.mutate(documentID, func(h *Head) error {
		if err := a.apply(h); err != nil {
			return err
		}
		out = h.Clone()
		return nil
	})
	return out, err
}

// SetData replaces the data cache at a given version
func (s *MemoryStore) SetData(ctx context.Context, documentID string, atVersion int, data map[string]version.Value) error {
	return s.mutate(documentID, func(h *Head) error {
		if h.CurrentVersion != atVersion {
			return versionConflict(documentID, atVersion, h.CurrentVersion)
		}
		h.Data = cloneData(data)
		return nil
	})
}

// Lock acquires the advisory lock
func (s *MemoryStore) Lock(ctx context.Context, documentID, actor string, at time.Time, refresh bool) (bool, error) {
	var ok bool
	err := s.mutate(documentID, func(h *Head) error {
		ok, _ = acquire(h, actor, at, refresh)
		return nil
	})
	return ok, err
}

// Unlock releases the advisory lock
func (s *MemoryStore) Unlock(ctx context.Context, documentID, actor string) (bool, error) {
	var ok bool
	err := s.mutate(documentID, func(h *Head) error {
		ok = release(h, actor)
		return nil
	})
	return ok, err
}

// mutate applies fn to a copy and swaps it in only on success
func (s *MemoryStore) mutate(documentID string, fn func(h *Head) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.heads[documentID]
	if !ok {
		return notFound(documentID)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.heads[documentID] = next
	return nil
}

func cloneData(data map[string]version.Value) map[string]version.Value {
	out := make(map[string]version.Value, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
