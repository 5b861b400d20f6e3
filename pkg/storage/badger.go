// ABOUTME: BadgerDB lifecycle and transaction helpers
// ABOUTME: Serializable read-write transactions provide the compare-and-set primitive

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// MaxTxnRetries bounds how often a read-write transaction is replayed after
// badger reports a conflicting concurrent commit
const MaxTxnRetries = 8

// BadgerConfig holds configuration for a BadgerDB instance
type BadgerConfig struct {
	Path           string        // Directory for database files, ignored when InMemory
	InMemory       bool          // No disk persistence (tests)
	SyncWrites     bool          // fsync every commit
	GCInterval     time.Duration // Value log GC period, 0 disables
	GCDiscardRatio float64
	Logger         *zerolog.Logger // nil disables badger's internal logging
}

// DefaultBadgerConfig returns production defaults
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts zerolog to badger's Logger interface
type badgerLogger struct {
	zlog zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// BadgerDB wraps a badger instance with GC lifecycle management
type BadgerDB struct {
	*badger.DB

	stopGC chan struct{}
	gcDone chan struct{}
	log    zerolog.Logger
}

// OpenBadger opens a BadgerDB with the given configuration
func OpenBadger(cfg BadgerConfig) (*BadgerDB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "badger").Logger()
		opts = opts.WithLogger(&badgerLogger{zlog: log})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	wrapped := &BadgerDB{DB: db, log: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		wrapped.stopGC = make(chan struct{})
		wrapped.gcDone = make(chan struct{})
		go wrapped.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return wrapped, nil
}

// Close stops garbage collection and closes the database
func (d *BadgerDB) Close() error {
	if d.stopGC != nil {
		close(d.stopGC)
		<-d.gcDone
		d.stopGC = nil
	}
	return d.DB.Close()
}

func (d *BadgerDB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting
			if err := d.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.log.Warn().Err(err).Msg("badger value log GC failed")
			}
		}
	}
}

// Update runs fn in a read-write transaction and commits it. A commit that
// loses against a concurrent writer is replayed from a fresh snapshot so the
// checks inside fn are re-evaluated against the winner's state.
func (d *BadgerDB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		err := d.DB.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt+1 >= MaxTxnRetries {
			return fmt.Errorf("%w: %v", ErrVersionConflict, err)
		}
	}
}

// View runs fn in a read-only transaction
func (d *BadgerDB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.DB.View(fn)
}

// GetValue copies the value at key, mapping a missing key to ErrNotFound
func GetValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Exists reports whether key is present
func Exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}
