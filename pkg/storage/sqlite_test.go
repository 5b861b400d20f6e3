package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "schedver.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not re-run the migration
	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&count))
	assert.Equal(t, MigrationVersion, count)

	for _, table := range []string{"versions", "heads"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestSQLiteVersionSlotIsUnique(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO versions (id, document_id, version_number, previous_id, created_by, created_at, is_active, changes, metadata)
		VALUES (?, 'sched', 1, NULL, 'alice', 0, 1, '[]', '{}')`
	_, err = db.Exec(insert, "a")
	require.NoError(t, err)
	_, err = db.Exec(insert, "b")
	assert.ErrorContains(t, err, "constraint failed")
}
