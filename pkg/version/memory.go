package version

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/storage"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[uuid.UUID][]byte
	numbers map[string]map[int]uuid.UUID
}

// NewMemoryStore creates an empty in-memory version store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[uuid.UUID][]byte),
		numbers: make(map[string]map[int]uuid.UUID),
	}
}

// Put writes a new node
func (s *MemoryStore) Put(ctx context.Context, n *Node) error {
	// Stored encoded so callers can't mutate persisted nodes
	data, err := Encode(n)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[n.VersionID]; ok {
		return fmt.Errorf("%w: version %s already exists", storage.ErrVersionConflict, n.VersionID)
	}
	byNum := s.numbers[n.DocumentID]
	if byNum == nil {
		byNum = make(map[int]uuid.UUID)
		s.numbers[n.DocumentID] = byNum
	}
	if _, ok := byNum[n.VersionNumber]; ok {
		return fmt.Errorf("%w: %s already has version %d", storage.ErrVersionConflict, n.DocumentID, n.VersionNumber)
	}

	s.nodes[n.VersionID] = data
	byNum[n.VersionNumber] = n.VersionID
	return nil
}

// Get returns a node by id
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	s.mu.RLock()
	data, ok := s.nodes[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: version %s", storage.ErrNotFound, id)
	}
	return Decode(data)
}

// Range returns nodes with from <= versionNumber <= to, ascending
func (s *MemoryStore) Range(ctx context.Context, documentID string, from, to int) ([]*Node, error) {
	return s.collect(documentID, func(num int) bool { return num >= from && num <= to }, false, 0)
}

// Latest returns up to limit nodes, newest first
func (s *MemoryStore) Latest(ctx context.Context, documentID string, limit int) ([]*Node, error) {
	return s.collect(documentID, func(int) bool { return true }, true, limit)
}

// After returns nodes with versionNumber > number, ascending
func (s *MemoryStore) After(ctx context.Context, documentID string, number int) ([]*Node, error) {
	return s.collect(documentID, func(num int) bool { return num > number }, false, 0)
}

// Discard removes a node
func (s *MemoryStore) Discard(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: version %s", storage.ErrNotFound, id)
	}
	n, err := Decode(data)
	if err != nil {
		return err
	}

	delete(s.nodes, id)
	delete(s.numbers[n.DocumentID], n.VersionNumber)
	return nil
}

func (s *MemoryStore) collect(documentID string, match func(int) bool, newestFirst bool, limit int) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nums := make([]int, 0, len(s.numbers[documentID]))
	for num := range s.numbers[documentID] {
		if match(num) {
			nums = append(nums, num)
		}
	}
	if newestFirst {
		sort.Sort(sort.Reverse(sort.IntSlice(nums)))
	} else {
		sort.Ints(nums)
	}
	if limit > 0 && len(nums) > limit {
		nums = nums[:limit]
	}

	out := make([]*Node, 0, len(nums))
	for _, num := range nums {
		n, err := Decode(s.nodes[s.numbers[documentID][num]])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrCorrupted, err)
		}
		out = append(out, n)
	}
	return out, nil
}
