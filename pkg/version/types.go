// ABOUTME: Version chain data model: field-level change records and version nodes
// ABOUTME: Nodes are immutable once persisted and linked to their predecessor

package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Value is an opaque, JSON-serializable field value. The engine only stores
// and compares values, it never interprets them.
type Value = any

// ChangeRecord is a single field mutation
type ChangeRecord struct {
	Field     string    `json:"field"`
	OldValue  Value     `json:"oldValue"`
	NewValue  Value     `json:"newValue"`
	Timestamp time.Time `json:"timestamp"`
	ChangedBy string    `json:"changedBy"`
}

// Validate checks the record is well formed
func (c ChangeRecord) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field name is required")
	}
	if c.ChangedBy == "" {
		return fmt.Errorf("changedBy is required for field %q", c.Field)
	}
	if _, err := json.Marshal(c.NewValue); err != nil {
		return fmt.Errorf("newValue of field %q is not serializable: %w", c.Field, err)
	}
	if _, err := json.Marshal(c.OldValue); err != nil {
		return fmt.Errorf("oldValue of field %q is not serializable: %w", c.Field, err)
	}
	return nil
}

// Metadata classifies a version (rollback, merge outcome, ...)
type Metadata struct {
	Reason             string     `json:"reason,omitempty"`
	ConflictResolution bool       `json:"conflictResolution,omitempty"`
	AutoMerged         bool       `json:"autoMerged,omitempty"`
	RollbackTo         *uuid.UUID `json:"rollbackTo,omitempty"`
}

// Node is an immutable snapshot descriptor in a document's version chain
type Node struct {
	VersionID         uuid.UUID      `json:"versionId"`
	DocumentID        string         `json:"documentId"`
	VersionNumber     int            `json:"versionNumber"` // 1-based, gap-free per document
	Changes           []ChangeRecord `json:"changes"`       // later entries win on replay
	PreviousVersionID *uuid.UUID     `json:"previousVersionId,omitempty"`
	CreatedBy         string         `json:"createdBy"`
	CreatedAt         time.Time      `json:"createdAt"`
	IsActive          bool           `json:"isActive"`
	Metadata          Metadata       `json:"metadata"`
}

// Fields returns the distinct field names touched by the node, in first-touch order
func (n *Node) Fields() []string {
	seen := make(map[string]bool, len(n.Changes))
	fields := make([]string, 0, len(n.Changes))
	for _, c := range n.Changes {
		if !seen[c.Field] {
			seen[c.Field] = true
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// LatestValues folds the node's own changes, last write wins
func (n *Node) LatestValues() map[string]Value {
	out := make(map[string]Value, len(n.Changes))
	Apply(out, n.Changes)
	return out
}

// IsRollback reports whether the node was produced by a rollback
func (n *Node) IsRollback() bool {
	return n.Metadata.RollbackTo != nil
}

// Apply folds changes into state in list order, last write wins
func Apply(state map[string]Value, changes []ChangeRecord) {
	for _, c := range changes {
		state[c.Field] = c.NewValue
	}
}

// ValuesEqual compares two values by their canonical JSON encoding, so a
// value read back from storage equals the value that was written
func ValuesEqual(a, b Value) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// Encode serializes a node for storage
func Encode(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

// Decode deserializes a stored node
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
