package engine

import (
	"errors"
	"fmt"

	"github.com/nainya/schedver/pkg/storage"
)

// Error taxonomy. Store errors wrap the same sentinels, so errors.Is works on
// anything the engine returns.
var (
	ErrNotFound        = storage.ErrNotFound
	ErrAlreadyExists   = storage.ErrExists
	ErrLockConflict    = storage.ErrLockConflict
	ErrVersionConflict = storage.ErrVersionConflict
	ErrValidation      = errors.New("engine: validation failed")
)

// ValidationError describes a rejected input
type ValidationError struct {
	Index  int // offending change record, -1 when not record specific
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("engine: invalid change %d (%s): %s", e.Index, e.Field, e.Reason)
	}
	return "engine: " + e.Reason
}

// Is makes errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason string) error {
	return &ValidationError{Index: -1, Reason: reason}
}
