package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/version"
)

// RollbackField is the change record field written by RollbackToVersion
const RollbackField = "rollback"

// RollbackToVersion appends a version that restores the state of an earlier
// one. History is never rewritten: the new node carries a single change on
// RollbackField whose new value is the target id, and the head data cache is
// replaced with the replayed state of the target.
func (e *Engine) RollbackToVersion(ctx context.Context, documentID string, targetID uuid.UUID, actor string) (node *version.Node, err error) {
	defer e.observe("rollback", time.Now(), &err)

	head, err := e.heads.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	target, err := e.versions.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.DocumentID != documentID || !head.References(targetID) {
		return nil, fmt.Errorf("%w: version %s in document %s", ErrNotFound, targetID, documentID)
	}

	nodes, err := e.chain(ctx, documentID, target.VersionNumber)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordReplay(len(nodes))
	state := Replay(nodes)

	var previous version.Value
	if last := head.LastVersionID(); last != nil {
		previous = last.String()
	}
	change := version.ChangeRecord{
		Field:     RollbackField,
		OldValue:  previous,
		NewValue:  targetID.String(),
		Timestamp: e.now(),
		ChangedBy: actor,
	}
	meta := &version.Metadata{Reason: "rollback", RollbackTo: &targetID}

	node, err = e.CreateVersion(ctx, documentID, []version.ChangeRecord{change}, actor, meta)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRollback()

	// The cache is only replaced if nobody advanced past the rollback meanwhile
	if err := e.heads.SetData(ctx, documentID, node.VersionNumber, state); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			return node, fmt.Errorf("refresh data cache of %s: %w", documentID, err)
		}
		e.log.Warn().Err(err).
			Str("document", documentID).
			Int("version", node.VersionNumber).
			Msg("head moved past rollback, data cache left as is")
	}

	e.log.Info().
		Str("document", documentID).
		Int("version", node.VersionNumber).
		Int("target", target.VersionNumber).
		Str("actor", actor).
		Msg("rolled back")
	return node, nil
}
