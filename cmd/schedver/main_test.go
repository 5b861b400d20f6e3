package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nainya/schedver/internal/config"
	"github.com/nainya/schedver/internal/logger"
	"github.com/nainya/schedver/pkg/version"
)

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	cases := []config.StorageConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendBadger, Path: filepath.Join(dir, "badger")},
		{Backend: config.BackendSQLite, Path: filepath.Join(dir, "schedver.db")},
	}

	for _, sc := range cases {
		t.Run(sc.Backend, func(t *testing.T) {
			b, err := openBackend(sc, logger.Nop())
			require.NoError(t, err)
			defer b.Close()

			eng := newEngine(b, config.Default().Engine, logger.Nop(), nil)
			ctx := context.Background()
			_, err = eng.CreateDocument(ctx, "sched", "alice")
			require.NoError(t, err)
			node, err := eng.CreateVersion(ctx, "sched", []version.ChangeRecord{{Field: "room", NewValue: "A"}}, "alice", nil)
			require.NoError(t, err)
			assert.Equal(t, 1, node.VersionNumber)

			reports, err := reconcileAll(ctx, eng, logger.Nop())
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Empty(t, reports[0].Adopted)
			assert.Empty(t, reports[0].Discarded)
		})
	}

	_, err := openBackend(config.StorageConfig{Backend: "postgres"}, logger.Nop())
	assert.Error(t, err)
}

func TestWriteHistory(t *testing.T) {
	b, err := openBackend(config.StorageConfig{Backend: config.BackendMemory}, logger.Nop())
	require.NoError(t, err)
	eng := newEngine(b, config.Default().Engine, logger.Nop(), nil)
	ctx := context.Background()

	_, err = eng.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)
	for _, room := range []string{"A", "B"} {
		_, err = eng.CreateVersion(ctx, "sched", []version.ChangeRecord{{Field: "room", NewValue: room}}, "alice", nil)
		require.NoError(t, err)
	}
	nodes, err := eng.GetVersionHistory(ctx, "sched", 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, nodes))

	var entries []historyEntry
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Version)
	assert.Equal(t, "B", entries[0].Changes[0].NewValue)
	assert.Equal(t, "alice", entries[1].Changes[0].ChangedBy)
}
