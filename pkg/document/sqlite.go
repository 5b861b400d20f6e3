package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

const headColumns = `document_id, current_version, version_history, data, last_modified, last_modified_by, locked_by, locked_at`

// SQLStore persists heads in SQLite. Version advances are guarded by
// `WHERE current_version = ?` and lock changes by a conditional UPDATE on
// locked_by, so the database arbitrates concurrent writers.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a head store over a migrated database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create stores a new head
func (s *SQLStore) Create(ctx context.Context, h *Head) error {
	history, data, err := encodeColumns(h)
	if err != nil {
		return err
	}

	var lockedBy sql.NullString
	var lockedAt sql.NullInt64
	if h.Lock != nil {
		lockedBy = sql.NullString{String: h.Lock.LockedBy, Valid: true}
		lockedAt = sql.NullInt64{Int64: h.Lock.LockedAt.UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO heads (`+headColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.DocumentID, h.CurrentVersion, history, data, h.LastModified.UnixNano(), h.LastModifiedBy, lockedBy, lockedAt)
	if err != nil {
		if strings.Contains(err.Error(), "constraint failed") {
			return fmt.Errorf("%w: document %s", storage.ErrExists, h.DocumentID)
		}
		return fmt.Errorf("failed to insert head: %w", err)
	}
	return nil
}

// Get returns a head
func (s *SQLStore) Get(ctx context.Context, documentID string) (*Head, error) {
	return getHead(ctx, s.db, documentID)
}

// List returns all document ids
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id FROM heads ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list heads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Advance appends a version. The UPDATE re-asserts the expected version and
// lock holder so it only applies to the head state it was computed from.
func (s *SQLStore) Advance(ctx context.Context, documentID string, a Advance) (*Head, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	h, err := getHead(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	if err := a.apply(h); err != nil {
		return nil, err
	}

	history, data, err := encodeColumns(h)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE heads
		SET current_version = ?, version_history = ?, data = ?, last_modified = ?, last_modified_by = ?
		WHERE document_id = ? AND current_version = ? AND (? OR locked_by IS NULL OR locked_by = ?)`,
		h.CurrentVersion, history, data, h.LastModified.UnixNano(), h.LastModifiedBy,
		documentID, a.ExpectedVersion, a.Force, a.Actor)
	if err != nil {
		return nil, fmt.Errorf("failed to advance head: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: document %s changed concurrently", storage.ErrVersionConflict, documentID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return h, nil
}

// SetData replaces the data cache at a given version
func (s *SQLStore) SetData(ctx context.Context, documentID string, atVersion int, data map[string]version.Value) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE heads SET data = ? WHERE document_id = ? AND current_version = ?`,
		string(encoded), documentID, atVersion)
	if err != nil {
		return fmt.Errorf("failed to set data: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		h, err := s.Get(ctx, documentID)
		if err != nil {
			return err
		}
		return versionConflict(documentID, atVersion, h.CurrentVersion)
	}
	return nil
}

// Lock acquires the advisory lock in a single conditional UPDATE
func (s *SQLStore) Lock(ctx context.Context, documentID, actor string, at time.Time, refresh bool) (bool, error) {
	// Without refresh the holder keeps its original timestamp
	stampExpr := "?"
	if !refresh {
		stampExpr = "CASE WHEN locked_by = ? THEN locked_at ELSE ? END"
	}
	query := `UPDATE heads SET locked_by = ?, locked_at = ` + stampExpr + `
		WHERE document_id = ? AND (locked_by IS NULL OR locked_by = ?)`

	args := []any{actor}
	if !refresh {
		args = append(args, actor)
	}
	args = append(args, at.UnixNano(), documentID, actor)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to lock: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return true, nil
	}
	return false, s.exists(ctx, documentID)
}

// Unlock releases the advisory lock in a single conditional UPDATE
func (s *SQLStore) Unlock(ctx context.Context, documentID, actor string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE heads SET locked_by = NULL, locked_at = NULL
		WHERE document_id = ? AND locked_by = ?`, documentID, actor)
	if err != nil {
		return false, fmt.Errorf("failed to unlock: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		return true, nil
	}
	return false, s.exists(ctx, documentID)
}

func (s *SQLStore) exists(ctx context.Context, documentID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM heads WHERE document_id = ?`, documentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(documentID)
	}
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getHead(ctx context.Context, q queryer, documentID string) (*Head, error) {
	var (
		h             Head
		history, data string
		lastModified  int64
		lockedBy      sql.NullString
		lockedAt      sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT `+headColumns+` FROM heads WHERE document_id = ?`, documentID).
		Scan(&h.DocumentID, &h.CurrentVersion, &history, &data, &lastModified, &h.LastModifiedBy, &lockedBy, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read head: %w", err)
	}

	h.LastModified = time.Unix(0, lastModified)
	h.VersionHistory = []uuid.UUID{}
	if err := json.Unmarshal([]byte(history), &h.VersionHistory); err != nil {
		return nil, fmt.Errorf("%w: history of %s: %v", storage.ErrCorrupted, documentID, err)
	}
	h.Data = map[string]version.Value{}
	if err := json.Unmarshal([]byte(data), &h.Data); err != nil {
		return nil, fmt.Errorf("%w: data of %s: %v", storage.ErrCorrupted, documentID, err)
	}
	if lockedBy.Valid {
		h.Lock = &Lock{LockedBy: lockedBy.String, LockedAt: time.Unix(0, lockedAt.Int64)}
	}
	return &h, nil
}

func encodeColumns(h *Head) (string, string, error) {
	history := h.VersionHistory
	if history == nil {
		history = []uuid.UUID{}
	}
	hist, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode history: %w", err)
	}
	data := h.Data
	if data == nil {
		data = map[string]version.Value{}
	}
	d, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode data: %w", err)
	}
	return string(hist), string(d), nil
}
