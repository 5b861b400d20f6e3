// ABOUTME: Document head store contract
// ABOUTME: Every mutation is a single atomic conditional update

package document

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/schedver/pkg/storage"
	"github.com/nainya/schedver/pkg/version"
)

// Store persists document heads. Implementations must apply each method as
// one atomic operation so concurrent callers never observe a half-applied
// read-modify-write.
type Store interface {
	// Create stores a new head, storage.ErrExists if one is present
	Create(ctx context.Context, h *Head) error

	// Get returns a head or storage.ErrNotFound
	Get(ctx context.Context, documentID string) (*Head, error)

	// List returns all document ids in ascending order
	List(ctx context.Context) ([]string, error)

	// Advance appends a version if CurrentVersion == a.ExpectedVersion and the
	// lock (if any) is held by a.Actor. Returns storage.ErrVersionConflict or
	// storage.ErrLockConflict otherwise.
	Advance(ctx context.Context, documentID string, a Advance) (*Head, error)

	// SetData replaces the data cache while CurrentVersion == atVersion
	SetData(ctx context.Context, documentID string, atVersion int, data map[string]version.Value) error

	// Lock acquires the advisory lock for actor. Returns false when another
	// actor holds it. With refresh, a re-acquire by the holder moves LockedAt.
	Lock(ctx context.Context, documentID, actor string, at time.Time, refresh bool) (bool, error)

	// Unlock releases the lock if actor holds it
	Unlock(ctx context.Context, documentID, actor string) (bool, error)
}

func notFound(documentID string) error {
	return fmt.Errorf("%w: document %s", storage.ErrNotFound, documentID)
}

func versionConflict(documentID string, expected, actual int) error {
	return fmt.Errorf("%w: document %s expected version %d, head is at %d",
		storage.ErrVersionConflict, documentID, expected, actual)
}

func lockConflict(documentID, holder string) error {
	return fmt.Errorf("%w: document %s is locked by %s", storage.ErrLockConflict, documentID, holder)
}
