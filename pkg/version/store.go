// ABOUTME: Append-only version store contract
// ABOUTME: Nodes are addressable by id and by (documentID, versionNumber)

package version

import (
	"context"

	"github.com/google/uuid"
)

// Store persists version nodes. Nodes are written once and never updated;
// a (documentID, versionNumber) slot can be claimed by exactly one node.
type Store interface {
	// Put writes a new node. Returns storage.ErrVersionConflict if the id or
	// the (documentID, versionNumber) slot is already taken.
	Put(ctx context.Context, n *Node) error

	// Get returns a node by id or storage.ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*Node, error)

	// Range returns nodes with from <= versionNumber <= to, ascending
	Range(ctx context.Context, documentID string, from, to int) ([]*Node, error)

	// Latest returns up to limit nodes, newest first
	Latest(ctx context.Context, documentID string, limit int) ([]*Node, error)

	// After returns nodes with versionNumber > number, ascending
	After(ctx context.Context, documentID string, number int) ([]*Node, error)

	// Discard removes a node that no head references. Used only to clean up
	// orphans left by a failed commit.
	Discard(ctx context.Context, id uuid.UUID) error
}
