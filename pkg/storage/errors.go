// Package storage holds the persistence primitives shared by the version and
// document stores: the error taxonomy, the order-preserving key codec and the
// badger / SQLite openers.
package storage

import "errors"

var (
	// ErrNotFound indicates a document head or version node does not exist
	ErrNotFound = errors.New("storage: not found")

	// ErrExists indicates a create collided with an existing record
	ErrExists = errors.New("storage: already exists")

	// ErrVersionConflict indicates a compare-and-set lost against a concurrent writer
	ErrVersionConflict = errors.New("storage: version conflict")

	// ErrLockConflict indicates a mutation by an actor that does not hold the lock
	ErrLockConflict = errors.New("storage: locked by another actor")

	// ErrCorrupted indicates a stored record could not be decoded
	ErrCorrupted = errors.New("storage: corrupted record")
)
