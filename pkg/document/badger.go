// ABOUTME: Badger-backed head store
// ABOUTME: Badger's conflict detection turns each read-check-write into a compare-and-set

package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

// BadgerStore persists heads in badger
type BadgerStore struct {
	db *storage.BadgerDB
}

// NewBadgerStore creates a head store over an open database
func NewBadgerStore(db *storage.BadgerDB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Create stores a new head
func (s *BadgerStore) Create(ctx context.Context, h *Head) error {
	data, err := encodeHead(h)
	if err != nil {
		return err
	}
	key := storage.HeadKey(h.DocumentID)

	return s.db.Update(ctx, func(txn *badger.Txn) error {
		ok, err := storage.Exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: document %s", storage.ErrExists, h.DocumentID)
		}
		return txn.Set(key, data)
	})
}

// Get returns a head
func (s *BadgerStore) Get(ctx context.Context, documentID string) (*Head, error) {
	var h *Head
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		h, err = readHead(txn, documentID)
		return err
	})
	return h, err
}

// List returns all document ids
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	prefix := storage.HeadPrefix()

	var ids []string
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			vals, err := storage.ExtractValues(it.Item().Key())
			if err != nil || len(vals) < 1 {
				continue
			}
			ids = append(ids, string(vals[0].Str))
		}
		return nil
	})
	return ids, err
}

// Advance appends a version under the compare-and-set guard
func (s *BadgerStore) Advance(ctx context.Context, documentID string, a Advance) (*Head, error) {
	var out *Head
	err := s.mutate(ctx, documentID, func(h *Head) (bool, error) {
		if err := a.apply(h); err != nil {
			return false, err
		}
		out = h
		return true, nil
	})
	return out, err
}

// SetData replaces the data cache at a given version
func (s *BadgerStore) SetData(ctx context.Context, documentID string, atVersion int, data map[string]version.Value) error {
	return s.mutate(ctx, documentID, func(h *Head) (bool, error) {
		if h.CurrentVersion != atVersion {
			return false, versionConflict(documentID, atVersion, h.CurrentVersion)
		}
		h.Data = cloneData(data)
		return true, nil
	})
}

// Lock acquires the advisory lock
func (s *BadgerStore) Lock(ctx context.Context, documentID, actor string, at time.Time, refresh bool) (bool, error) {
	var ok bool
	err := s.mutate(ctx, documentID, func(h *Head) (bool, error) {
		var changed bool
		ok, changed = acquire(h, actor, at, refresh)
		return changed, nil
	})
	return ok, err
}

// Unlock releases the advisory lock
func (s *BadgerStore) Unlock(ctx context.Context, documentID, actor string) (bool, error) {
	var ok bool
	err := s.mutate(ctx, documentID, func(h *Head) (bool, error) {
		ok = release(h, actor)
		return ok, nil
	})
	return ok, err
}

// mutate reads, modifies and writes the head in one transaction. If another
// commit touched the head in between, badger rejects ours and the whole
// function is replayed, so fn always decides against the latest head. fn
// returns false when it left the head unchanged; nothing is written then.
func (s *BadgerStore) mutate(ctx context.Context, documentID string, fn func(h *Head) (bool, error)) error {
	key := storage.HeadKey(documentID)
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		h, err := readHead(txn, documentID)
		if err != nil {
			return err
		}
		changed, err := fn(h)
		if err != nil || !changed {
			return err
		}
		data, err := encodeHead(h)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func readHead(txn *badger.Txn, documentID string) (*Head, error) {
	data, err := storage.GetValue(txn, storage.HeadKey(documentID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, err
	}
	h, err := decodeHead(data)
	if err != nil {
		return nil, fmt.Errorf("%w: head %s: %v", storage.ErrCorrupted, documentID, err)
	}
	return h, nil
}
