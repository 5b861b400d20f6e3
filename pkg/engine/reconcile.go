package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/document"
	"github.com/nainya/schedver/pkg/version"
)

// ReconcileReport lists what a reconciliation pass did to one document
type ReconcileReport struct {
	DocumentID     string      `json:"documentId" yaml:"documentId"`
	CurrentVersion int         `json:"currentVersion" yaml:"currentVersion"`
	Adopted        []uuid.UUID `json:"adopted" yaml:"adopted"`
	Discarded      []uuid.UUID `json:"discarded" yaml:"discarded"`
}

// Reconcile repairs the crash window between persisting a version node and
// advancing the head. Nodes numbered above the head are walked in order: a
// node that extends the head exactly (next number, previous id equal to the
// last history entry) is adopted; the first one that does not, and every
// node after it, is discarded.
func (e *Engine) Reconcile(ctx context.Context, documentID string) (report *ReconcileReport, err error) {
	defer e.observe("reconcile", time.Now(), &err)

	gate := e.inflight.get(documentID)
	gate.Lock()
	defer gate.Unlock()

	head, err := e.heads.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	orphans, err := e.versions.After(ctx, documentID, head.CurrentVersion)
	if err != nil {
		return nil, err
	}

	report = &ReconcileReport{
		DocumentID: documentID,
		Adopted:    []uuid.UUID{},
		Discarded:  []uuid.UUID{},
	}
	defer func() {
		e.metrics.RecordReconciled("adopted", len(report.Adopted))
		e.metrics.RecordReconciled("discarded", len(report.Discarded))
	}()

	adopting := true
	for _, n := range orphans {
		if adopting && extends(head, n) {
			// Another process sharing the store may have dropped it since After
			if _, err := e.versions.Get(ctx, n.VersionID); errors.Is(err, ErrNotFound) {
				adopting = false
				continue
			} else if err != nil {
				report.CurrentVersion = head.CurrentVersion
				return report, fmt.Errorf("adopt version %d of %s: %w", n.VersionNumber, documentID, err)
			}
			next, err := e.heads.Advance(ctx, documentID, document.Advance{
				ExpectedVersion: head.CurrentVersion,
				VersionID:       n.VersionID,
				Actor:           n.CreatedBy,
				At:              n.CreatedAt,
				Changes:         n.Changes,
				Force:           true,
			})
			if err != nil {
				report.CurrentVersion = head.CurrentVersion
				return report, fmt.Errorf("adopt version %d of %s: %w", n.VersionNumber, documentID, err)
			}
			head = next
			report.Adopted = append(report.Adopted, n.VersionID)
			e.log.Info().Str("document", documentID).Int("version", n.VersionNumber).Msg("adopted orphan version")
			continue
		}

		adopting = false
		if err := e.versions.Discard(ctx, n.VersionID); err != nil && !errors.Is(err, ErrNotFound) {
			report.CurrentVersion = head.CurrentVersion
			return report, fmt.Errorf("discard version %d of %s: %w", n.VersionNumber, documentID, err)
		}
		report.Discarded = append(report.Discarded, n.VersionID)
		e.log.Info().Str("document", documentID).Int("version", n.VersionNumber).Msg("discarded orphan version")
	}

	report.CurrentVersion = head.CurrentVersion
	return report, nil
}

// ReconcileAll reconciles every document. A failing document does not stop
// the pass; all failures are returned joined.
func (e *Engine) ReconcileAll(ctx context.Context) ([]*ReconcileReport, error) {
	ids, err := e.heads.List(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*ReconcileReport, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := e.Reconcile(ctx, id)
		if err != nil {
			errs = append(errs, err)
		}
		if r != nil {
			reports = append(reports, r)
		}
	}
	return reports, errors.Join(errs...)
}

func extends(head *document.Head, n *version.Node) bool {
	if n.VersionNumber != head.CurrentVersion+1 {
		return false
	}
	last := head.LastVersionID()
	if last == nil || n.PreviousVersionID == nil {
		return last == nil && n.PreviousVersionID == nil
	}
	return *last == *n.PreviousVersionID
}
