package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory is returned for names that match no category or alias.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrEmptyDocument is returned when a document has no sections.
	ErrEmptyDocument = errors.New("document has no sections")

	// ErrResourceExceeded marks failures caused by an input that is too large
	// for a size-constrained collaborator. The controller reacts to it by
	// retrying with a minimal context view.
	ErrResourceExceeded = errors.New("resource exceeded")
)

// ResourceExceededError carries the measured size and the limit it broke.
// Estimated and Limit are in tokens; either may be zero when unknown.
type ResourceExceededError struct {
	Op        string
	Estimated int
	Limit     int
	Err       error
}

func (e *ResourceExceededError) Error() string {
	msg := fmt.Sprintf("%s: input too large", e.Op)
	if e.Limit > 0 {
		msg = fmt.Sprintf("%s: input too large (%d > %d tokens)", e.Op, e.Estimated, e.Limit)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both ErrResourceExceeded and the cause.
func (e *ResourceExceededError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResourceExceeded}
	}
	return []error{ErrResourceExceeded, e.Err}
}

// IsResourceExceeded reports whether err is, or wraps, a size-limit failure.
func IsResourceExceeded(err error) bool {
	return errors.Is(err, ErrResourceExceeded)
}
