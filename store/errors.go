package store

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a lookup for a key that has never been written.
// Backends return it wrapped in a PersistenceError.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a backend failure with the operation and key that
// triggered it, so callers can log actionable context without knowing which
// backend is in play.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
