package main

import (
	"context"
	"fmt"

	"github.com/nainya/schedver/internal/config"
	"github.com/nainya/schedver/internal/logger"
	"github.com/nainya/schedver/internal/metrics"
	"github.com/nainya/schedver/pkg/document"
	"github.com/nainya/schedver/pkg/engine"
	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

// backend is an opened pair of stores sharing one database
type backend struct {
	versions version.Store
	heads    document.Store
	close    func() error
}

func (b *backend) Close() error {
	return b.close()
}

func openBackend(sc config.StorageConfig, log *logger.Logger) (*backend, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return &backend{
			versions: version.NewMemoryStore(),
			heads:    document.NewMemoryStore(),
			close:    func() error { return nil },
		}, nil

	case config.BackendBadger:
		bc := storage.DefaultBadgerConfig(sc.Path)
		bc.SyncWrites = sc.SyncWrites
		bc.GCInterval = sc.GCInterval
		bc.Logger = log.StorageLogger(config.BackendBadger)
		db, err := storage.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return &backend{
			versions: version.NewBadgerStore(db),
			heads:    document.NewBadgerStore(db),
			close:    db.Close,
		}, nil

	case config.BackendSQLite:
		db, err := storage.OpenSQLite(sc.Path)
		if err != nil {
			return nil, err
		}
		return &backend{
			versions: version.NewSQLStore(db),
			heads:    document.NewSQLStore(db),
			close:    db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

func newEngine(b *backend, ec config.EngineConfig, log *logger.Logger, m *metrics.Metrics) *engine.Engine {
	return engine.New(b.versions, b.heads,
		engine.WithLogger(log.EngineLogger()),
		engine.WithMetrics(m),
		engine.WithHistoryLimit(ec.HistoryLimit),
		engine.WithLockRefresh(ec.RefreshLockOnRelock),
		engine.WithAutoCreate(ec.AutoCreateDocuments),
	)
}

// reconcileAll runs a reconciliation pass and logs the totals
func reconcileAll(ctx context.Context, eng *engine.Engine, log *logger.Logger) ([]*engine.ReconcileReport, error) {
	reports, err := eng.ReconcileAll(ctx)
	adopted, discarded := 0, 0
	for _, r := range reports {
		adopted += len(r.Adopted)
		discarded += len(r.Discarded)
	}
	log.LogReconcile(len(reports), adopted, discarded, err)
	return reports, err
}

// withEngine opens the configured backend for a one-shot command
func withEngine(ctx context.Context, fn func(ctx context.Context, eng *engine.Engine) error) error {
	b, err := openBackend(cfg.Storage, appLog)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, newEngine(b, cfg.Engine, appLog, nil))
}
