package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBadgerGetValue(t *testing.T) {
	db := openTestBadger(t)
	ctx := context.Background()
	key := HeadKey("sched")

	err := db.View(ctx, func(txn *badger.Txn) error {
		_, err := GetValue(txn, key)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, []byte("head"))
	}))

	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error {
		val, err := GetValue(txn, key)
		if err != nil {
			return err
		}
		assert.Equal(t, []byte("head"), val)

		ok, err := Exists(txn, key)
		assert.True(t, ok)
		return err
	}))
}

// Concurrent read-increment-write cycles must not lose updates
func TestBadgerUpdateReplaysOnConflict(t *testing.T) {
	db := openTestBadger(t)
	ctx := context.Background()
	key := HeadKey("counter")

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Update(ctx, func(txn *badger.Txn) error {
				val, err := GetValue(txn, key)
				if errors.Is(err, ErrNotFound) {
					val = []byte{0}
				} else if err != nil {
					return err
				}
				return txn.Set(key, []byte{val[0] + 1})
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrVersionConflict)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error {
		val, err := GetValue(txn, key)
		if err != nil {
			return err
		}
		assert.LessOrEqual(t, int(val[0]), workers)
		assert.GreaterOrEqual(t, int(val[0]), 1)
		return nil
	}))
}

func TestBadgerCancelledContext(t *testing.T) {
	db := openTestBadger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.Update(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.View(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
