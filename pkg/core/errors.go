package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrCapacityExceeded = errors.New("chunk capacity exceeded")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrDuplicateEntry   = errors.New("entry already present")
	ErrChunkDeleted     = errors.New("chunk is deleted")
	ErrChunkTainted     = errors.New("chunk file changed outside this process")
	ErrReadOnly         = errors.New("store is in read-only mode")
)

// IntegrityMismatchError reports a chunk file whose content digest does not
// match the recorded one. It is fatal to trusting that file only; callers
// decide how to recover (retry, alert, restore from backup).
type IntegrityMismatchError struct {
	Name     string
	Expected string
	Actual   string
}

func (e *IntegrityMismatchError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("integrity mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("integrity mismatch in %s: expected %s, got %s", e.Name, e.Expected, e.Actual)
}

// IsIntegrityMismatch reports whether err wraps an IntegrityMismatchError.
func IsIntegrityMismatch(err error) bool {
	var target *IntegrityMismatchError
	return errors.As(err, &target)
}
