// Package engine implements schedule versioning and concurrency control.
//
// Every accepted mutation becomes an immutable version node appended to the
// document's chain; the document head points at the newest node and carries
// an advisory lock. The head advance is a compare-and-set on the current
// version number, which is what keeps version numbers gap-free and unique
// under concurrent writers. The lock only reduces contention.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/schedver/internal/metrics"
	"github.com/nainya/schedver/pkg/document"
	"github.com/nainya/schedver/pkg/version"
)

// DefaultHistoryLimit is used by GetVersionHistory when limit <= 0
const DefaultHistoryLimit = 10

// Engine is a stateless request handler over a version store and a head
// store. It is safe for concurrent use.
type Engine struct {
	versions version.Store
	heads    document.Store

	now          func() time.Time
	log          zerolog.Logger
	metrics      *metrics.Metrics
	historyLimit int
	refreshLock  bool
	autoCreate   bool

	inflight docGates
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHistoryLimit sets the default page size of GetVersionHistory
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithLockRefresh decides whether a holder re-acquiring its lock moves
// LockedAt to the time of the latest call (true, default) or keeps the
// original acquisition time (false).
func WithLockRefresh(refresh bool) Option {
	return func(e *Engine) { e.refreshLock = refresh }
}

// WithAutoCreate lets CreateVersion create a missing head instead of
// failing with ErrNotFound
func WithAutoCreate(enabled bool) Option {
	return func(e *Engine) { e.autoCreate = enabled }
}

// New creates an engine over the given stores
func New(versions version.Store, heads document.Store, opts ...Option) *Engine {
	e := &Engine{
		versions:     versions,
		heads:        heads,
		now:          time.Now,
		log:          zerolog.Nop(),
		historyLimit: DefaultHistoryLimit,
		refreshLock:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateDocument creates an empty head (version 0) for a new schedule
func (e *Engine) CreateDocument(ctx context.Context, documentID, actor string) (head *document.Head, err error) {
	defer e.observe("create_document", time.Now(), &err)

	if documentID == "" {
		return nil, invalid("document id is required")
	}
	if actor == "" {
		return nil, invalid("actor is required")
	}

	head = document.NewHead(documentID, actor, e.now())
	if err := e.heads.Create(ctx, head); err != nil {
		return nil, err
	}
	e.log.Info().Str("document", documentID).Str("actor", actor).Msg("document created")
	return head, nil
}

// GetHead returns the current head of a document
func (e *Engine) GetHead(ctx context.Context, documentID string) (*document.Head, error) {
	return e.heads.Get(ctx, documentID)
}

// GetVersion returns a version node by id
func (e *Engine) GetVersion(ctx context.Context, id uuid.UUID) (*version.Node, error) {
	return e.versions.Get(ctx, id)
}

// CreateVersion appends a version built from changes to the document.
//
// The node is persisted first and the head advanced second. If the advance
// loses (stale version number, or a lock taken in between) the node is
// discarded again so no head-less node is left behind, and the conflict is
// returned to the caller. The engine never retries: only the caller knows
// whether its changes still make sense against the newer head.
func (e *Engine) CreateVersion(ctx context.Context, documentID string, changes []version.ChangeRecord, actor string, meta *version.Metadata) (node *version.Node, err error) {
	defer e.observe("create_version", time.Now(), &err)

	now := e.now()
	changes, err = e.prepareChanges(documentID, changes, actor, now)
	if err != nil {
		return nil, err
	}

	head, err := e.loadHead(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	if head.LockedByOther(actor) {
		e.metrics.RecordConflict("lock")
		return nil, fmt.Errorf("%w: document %s is locked by %s", ErrLockConflict, documentID, head.Lock.LockedBy)
	}

	node = &version.Node{
		VersionID:         uuid.New(),
		DocumentID:        documentID,
		VersionNumber:     head.CurrentVersion + 1,
		Changes:           changes,
		PreviousVersionID: head.LastVersionID(),
		CreatedBy:         actor,
		CreatedAt:         now,
		IsActive:          true,
	}
	if meta != nil {
		node.Metadata = *meta
	}

	gate := e.inflight.get(documentID)
	gate.RLock()
	defer gate.RUnlock()

	if err := e.versions.Put(ctx, node); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			e.metrics.RecordConflict("version")
		}
		return nil, fmt.Errorf("persist version %d of %s: %w", node.VersionNumber, documentID, err)
	}

	_, err = e.heads.Advance(ctx, documentID, document.Advance{
		ExpectedVersion: head.CurrentVersion,
		VersionID:       node.VersionID,
		Actor:           actor,
		At:              now,
		Changes:         changes,
	})
	if err != nil {
		return e.abandon(ctx, node, err)
	}

	e.metrics.RecordVersionCreated()
	e.log.Debug().
		Str("document", documentID).
		Int("version", node.VersionNumber).
		Str("version_id", node.VersionID.String()).
		Str("actor", actor).
		Int("changes", len(changes)).
		Msg("version created")
	return node, nil
}

// abandon discards a node whose head advance failed. The caller holds the
// document's in-flight gate, so reconciliation cannot adopt the node meanwhile.
func (e *Engine) abandon(ctx context.Context, node *version.Node, cause error) (*version.Node, error) {
	// Cleanup must run even if the caller's context is what failed
	ctx = context.WithoutCancel(ctx)

	// The advance may have committed even though the call reported an error
	if head, err := e.heads.Get(ctx, node.DocumentID); err == nil && head.References(node.VersionID) {
		return node, nil
	}

	if err := e.versions.Discard(ctx, node.VersionID); err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Warn().Err(err).
			Str("document", node.DocumentID).
			Str("version_id", node.VersionID.String()).
			Msg("orphan version left behind, run reconciliation")
	}

	switch {
	case errors.Is(cause, ErrLockConflict):
		e.metrics.RecordConflict("lock")
	case errors.Is(cause, ErrVersionConflict):
		e.metrics.RecordConflict("version")
	}
	return nil, fmt.Errorf("advance head of %s: %w", node.DocumentID, cause)
}

// GetVersionHistory returns the newest limit versions, newest first
func (e *Engine) GetVersionHistory(ctx context.Context, documentID string, limit int) (nodes []*version.Node, err error) {
	defer e.observe("get_version_history", time.Now(), &err)

	if limit <= 0 {
		limit = e.historyLimit
	}

	head, err := e.heads.Get(ctx, documentID)
	if errors.Is(err, ErrNotFound) {
		return []*version.Node{}, nil
	}
	if err != nil {
		return nil, err
	}

	nodes, err = e.versions.Latest(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 || nodes[0].VersionNumber <= head.CurrentVersion {
		if nodes == nil {
			nodes = []*version.Node{}
		}
		return nodes, nil
	}

	// Unreconciled nodes sit above the head; read the committed range instead
	from := head.CurrentVersion - limit + 1
	if from < 1 {
		from = 1
	}
	asc, err := e.versions.Range(ctx, documentID, from, head.CurrentVersion)
	if err != nil {
		return nil, err
	}
	nodes = make([]*version.Node, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		nodes = append(nodes, asc[i])
	}
	return nodes, nil
}

// prepareChanges validates the proposed records and stamps missing authorship
func (e *Engine) prepareChanges(documentID string, changes []version.ChangeRecord, actor string, now time.Time) ([]version.ChangeRecord, error) {
	if documentID == "" {
		return nil, invalid("document id is required")
	}
	if actor == "" {
		return nil, invalid("actor is required")
	}
	if len(changes) == 0 {
		return nil, invalid("at least one change record is required")
	}

	out := make([]version.ChangeRecord, len(changes))
	for i, c := range changes {
		if c.ChangedBy == "" {
			c.ChangedBy = actor
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		if err := c.Validate(); err != nil {
			return nil, &ValidationError{Index: i, Field: c.Field, Reason: err.Error()}
		}
		out[i] = c
	}
	return out, nil
}

// loadHead reads the head, creating it when auto-create is enabled
func (e *Engine) loadHead(ctx context.Context, documentID, actor string) (*document.Head, error) {
	head, err := e.heads.Get(ctx, documentID)
	if err == nil || !errors.Is(err, ErrNotFound) || !e.autoCreate {
		return head, err
	}

	err = e.heads.Create(ctx, document.NewHead(documentID, actor, e.now()))
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return nil, err
	}
	return e.heads.Get(ctx, documentID)
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.RecordOperation(op, *err, time.Since(start))
}
