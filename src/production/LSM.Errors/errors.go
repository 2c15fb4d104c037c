// Package errors classifies failures of the reading pipeline so transports can map them
// to responses: ValidationError (unusable payload), PersistenceError (store unreachable or
// failing) and ErrNotFound (empty window, a valid empty result rather than a failure).
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrNotFound is returned by queries against an empty window
var ErrNotFound = stderrors.New("no readings in retention window")

// ValidationError reports a payload that cannot be turned into a reading
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reading: " + e.Reason
	}
	return fmt.Sprintf("invalid reading: field %q %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError reports a failed store operation
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// WrapPersistence wraps err as a PersistenceError for the given store operation.
// A nil err stays nil and an error that is already classified is returned unchanged.
func WrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrNotFound) || IsPersistence(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return stderrors.As(err, &v)
}

// IsPersistence reports whether err is a PersistenceError
func IsPersistence(err error) bool {
	var p *PersistenceError
	return stderrors.As(err, &p)
}

// IsNotFound reports whether err is ErrNotFound
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}
