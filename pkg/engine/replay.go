package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

// Replay folds the changes of nodes in the given order into a fresh state.
// Inactive nodes are skipped. Replay is pure: rollback nodes only contribute
// their own marker change.
func Replay(nodes []*version.Node) map[string]version.Value {
	state := make(map[string]version.Value)
	for _, n := range nodes {
		if !n.IsActive {
			continue
		}
		version.Apply(state, n.Changes)
	}
	return state
}

// Materialize computes the state the head data cache should hold after the
// given chain prefix: a rollback node resets the state to the replay of its
// target and later versions fold on top of that.
func Materialize(nodes []*version.Node) map[string]version.Value {
	state := make(map[string]version.Value)
	for i, n := range nodes {
		if !n.IsActive {
			continue
		}
		if target := rollbackTarget(nodes[:i], n); target > 0 {
			state = Replay(nodes[:target])
			continue
		}
		version.Apply(state, n.Changes)
	}
	return state
}

// rollbackTarget returns the version number n rolls back to, 0 if n is not a
// rollback or its target is not in prior
func rollbackTarget(prior []*version.Node, n *version.Node) int {
	if !n.IsRollback() {
		return 0
	}
	for _, p := range prior {
		if p.VersionID == *n.Metadata.RollbackTo {
			return p.VersionNumber
		}
	}
	return 0
}

// Reconstruct replays versions 1..target of a document
func (e *Engine) Reconstruct(ctx context.Context, documentID string, target int) (state map[string]version.Value, err error) {
	defer e.observe("reconstruct", time.Now(), &err)

	if target < 1 {
		return nil, invalid(fmt.Sprintf("target version must be positive, got %d", target))
	}
	head, err := e.heads.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if target > head.CurrentVersion {
		return nil, fmt.Errorf("%w: version %d of %s (current is %d)", ErrNotFound, target, documentID, head.CurrentVersion)
	}

	nodes, err := e.chain(ctx, documentID, target)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordReplay(len(nodes))
	return Replay(nodes), nil
}

// ReconstructVersion replays the document of a version up to that version
func (e *Engine) ReconstructVersion(ctx context.Context, id uuid.UUID) (map[string]version.Value, error) {
	n, err := e.versions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Reconstruct(ctx, n.DocumentID, n.VersionNumber)
}

// chain loads versions 1..upTo and checks there are no holes
func (e *Engine) chain(ctx context.Context, documentID string, upTo int) ([]*version.Node, error) {
	nodes, err := e.versions.Range(ctx, documentID, 1, upTo)
	if err != nil {
		return nil, err
	}
	if len(nodes) != upTo {
		return nil, fmt.Errorf("%w: %s has %d of %d versions", storage.ErrCorrupted, documentID, len(nodes), upTo)
	}
	for i, n := range nodes {
		if n.VersionNumber != i+1 {
			return nil, fmt.Errorf("%w: %s is missing version %d", storage.ErrCorrupted, documentID, i+1)
		}
	}
	return nodes, nil
}
