// ABOUTME: Badger-backed version store
// ABOUTME: Primary key by version id plus a (documentID, versionNumber) index for range scans

package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/storage"
)

// BadgerStore persists version nodes in badger
type BadgerStore struct {
	db *storage.BadgerDB
}

// NewBadgerStore creates a version store over an open database
func NewBadgerStore(db *storage.BadgerDB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Put writes the node and claims its number slot in one transaction
func (s *BadgerStore) Put(ctx context.Context, n *Node) error {
	data, err := Encode(n)
	if err != nil {
		return err
	}

	key := storage.VersionKey(n.VersionID.String())
	numKey := storage.VersionNumberKey(n.DocumentID, n.VersionNumber)

	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if ok, err := storage.Exists(txn, key); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: version %s already exists", storage.ErrVersionConflict, n.VersionID)
		}
		if ok, err := storage.Exists(txn, numKey); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: %s already has version %d", storage.ErrVersionConflict, n.DocumentID, n.VersionNumber)
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(numKey, []byte(n.VersionID.String()))
	})
}

// Get returns a node by id
func (s *BadgerStore) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	var n *Node
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, id.String())
		return err
	})
	return n, err
}

// Range returns nodes with from <= versionNumber <= to, ascending
func (s *BadgerStore) Range(ctx context.Context, documentID string, from, to int) ([]*Node, error) {
	if from < 0 {
		from = 0
	}
	return s.scan(ctx, documentID, from, func(num int) bool { return num <= to }, 0)
}

// After returns nodes with versionNumber > number, ascending
func (s *BadgerStore) After(ctx context.Context, documentID string, number int) ([]*Node, error) {
	return s.scan(ctx, documentID, number+1, func(int) bool { return true }, 0)
}

// Latest walks the number index backwards from the document's upper bound
func (s *BadgerStore) Latest(ctx context.Context, documentID string, limit int) ([]*Node, error) {
	prefix := storage.VersionNumberPrefix(documentID)
	seek := storage.EncodeKeyPartial(storage.PREFIX_VERSION_NUM, []storage.Value{
		storage.NewStringValue(documentID),
	}, storage.CMP_LE)

	var out []*Node
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			n, err := nodeFromIndex(txn, it.Item())
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// Discard removes a node and releases its number slot
func (s *BadgerStore) Discard(ctx context.Context, id uuid.UUID) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		n, err := getNode(txn, id.String())
		if err != nil {
			return err
		}
		if err := txn.Delete(storage.VersionKey(id.String())); err != nil {
			return err
		}
		numKey := storage.VersionNumberKey(n.DocumentID, n.VersionNumber)
		// Only release the slot if it still points at this node
		owner, err := storage.GetValue(txn, numKey)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(owner, []byte(id.String())) {
			return nil
		}
		return txn.Delete(numKey)
	})
}

func (s *BadgerStore) scan(ctx context.Context, documentID string, from int, keep func(int) bool, limit int) ([]*Node, error) {
	prefix := storage.VersionNumberPrefix(documentID)
	start := storage.VersionNumberKey(documentID, from)

	var out []*Node
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			num, err := numberFromKey(it.Item().Key())
			if err != nil {
				return err
			}
			if !keep(num) {
				break
			}
			n, err := nodeFromIndex(txn, it.Item())
			if err != nil {
				return err
			}
			out = append(out, n)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func numberFromKey(key []byte) (int, error) {
	vals, err := storage.ExtractValues(key)
	if err != nil || len(vals) < 2 {
		return 0, fmt.Errorf("%w: bad version index key", storage.ErrCorrupted)
	}
	return int(vals[1].U64), nil
}

func nodeFromIndex(txn *badger.Txn, item *badger.Item) (*Node, error) {
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return getNode(txn, string(id))
}

func getNode(txn *badger.Txn, id string) (*Node, error) {
	data, err := storage.GetValue(txn, storage.VersionKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	n, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupted, err)
	}
	return n, nil
}
