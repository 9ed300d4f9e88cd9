// Package retry provides retry policies, a transient-error classifier, and
// a cancellable runner that executes operations under a policy.
package retry

import (
	"errors"
)

// Error wrappers for classifying operation failures.

// TransientError marks a temporary failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// Transient wraps an error as retryable. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{err: err}
}

// FatalError marks a permanent failure that must not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// Fatal wraps an error as non-retryable. A nil error stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{err: err}
}

// IsTransient reports whether the chain contains a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether the chain contains a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// CancelledError reports that a run was interrupted by its context rather
// than failing on its own. It wraps the context error so errors.Is works
// against context.Canceled and context.DeadlineExceeded.
type CancelledError struct {
	err error
}

// Cancelled wraps a context error as a CancelledError. A nil error stays nil.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	return &CancelledError{err: err}
}

func (e *CancelledError) Error() string {
	return "operation cancelled: " + e.err.Error()
}

func (e *CancelledError) Unwrap() error {
	return e.err
}

// IsCancelled reports whether the chain contains a CancelledError.
func IsCancelled(err error) bool {
	var cancelled *CancelledError
	return errors.As(err, &cancelled)
}
