package version

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
)

const nodeColumns = `id, document_id, version_number, previous_id, created_by, created_at, is_active, changes, metadata`

// SQLStore persists version nodes in SQLite. The UNIQUE(document_id,
// version_number) constraint claims number slots.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a version store over a migrated database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Put inserts a node
func (s *SQLStore) Put(ctx context.Context, n *Node) error {
	changes, err := json.Marshal(n.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	var prev sql.NullString
	if n.PreviousVersionID != nil {
		prev = sql.NullString{String: n.PreviousVersionID.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.VersionID.String(), n.DocumentID, n.VersionNumber, prev, n.CreatedBy,
		n.CreatedAt.UnixNano(), n.IsActive, string(changes), string(meta),
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: %s version %d: %v", storage.ErrVersionConflict, n.DocumentID, n.VersionNumber, err)
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

// Get returns a node by id
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM versions WHERE id = ?`, id.String())
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %s", storage.ErrNotFound, id)
	}
	return n, err
}

// Range returns nodes with from <= versionNumber <= to, ascending
func (s *SQLStore) Range(ctx context.Context, documentID string, from, to int) ([]*Node, error) {
	return s.query(ctx, `SELECT `+nodeColumns+` FROM versions
		WHERE document_id = ? AND version_number >= ? AND version_number <= ?
		ORDER BY version_number ASC`, documentID, from, to)
}

// Latest returns up to limit nodes, newest first
func (s *SQLStore) Latest(ctx context.Context, documentID string, limit int) ([]*Node, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return s.query(ctx, `SELECT `+nodeColumns+` FROM versions
		WHERE document_id = ?
		ORDER BY version_number DESC LIMIT ?`, documentID, limit)
}

// After returns nodes with versionNumber > number, ascending
func (s *SQLStore) After(ctx context.Context, documentID string, number int) ([]*Node, error) {
	return s.query(ctx, `SELECT `+nodeColumns+` FROM versions
		WHERE document_id = ? AND version_number > ?
		ORDER BY version_number ASC`, documentID, number)
}

// Discard deletes a node
func (s *SQLStore) Discard(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to discard version: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: version %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		id, documentID, createdBy, changes, meta string
		number                                   int
		prev                                     sql.NullString
		createdAt                                int64
		active                                   bool
	)
	if err := row.Scan(&id, &documentID, &number, &prev, &createdBy, &createdAt, &active, &changes, &meta); err != nil {
		return nil, err
	}

	n := &Node{
		DocumentID:    documentID,
		VersionNumber: number,
		CreatedBy:     createdBy,
		CreatedAt:     time.Unix(0, createdAt),
		IsActive:      active,
	}

	var err error
	if n.VersionID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: version id %q", storage.ErrCorrupted, id)
	}
	if prev.Valid {
		p, err := uuid.Parse(prev.String)
		if err != nil {
			return nil, fmt.Errorf("%w: previous id %q", storage.ErrCorrupted, prev.String)
		}
		n.PreviousVersionID = &p
	}
	if err := json.Unmarshal([]byte(changes), &n.Changes); err != nil {
		return nil, fmt.Errorf("%w: changes of %s: %v", storage.ErrCorrupted, id, err)
	}
	if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata of %s: %v", storage.ErrCorrupted, id, err)
	}
	return n, nil
}

// isConstraintErr matches SQLite UNIQUE / PRIMARY KEY violations
func isConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}
