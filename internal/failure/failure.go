// Package failure defines the error taxonomy shared by the pipeline and
// the API layer.
//
// Every error leaving a service operation is one of four kinds:
//
//   - Validation: malformed or out-of-enumeration input, rejected before any mutation
//   - NotFound: a referenced device or alert does not exist
//   - Conflict: a uniqueness rule was violated (duplicate device name)
//   - Internal: persistence or transaction failure, always fully rolled back
//
// Internal errors carry their cause for logging, but Message never includes it.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// internalMessage is the only text an Internal error exposes.
const internalMessage = "an internal error occurred"

// Error is a classified error.
type Error struct {
	Kind Kind

	// Field names the offending input for Validation errors.
	Field string

	// Message is safe to return to callers.
	Message string

	// Err is the underlying cause. It is never rendered by Message.
	Err error
}

// Error implements the error interface. Internal errors include their
// cause so that log lines are useful.
func (e *Error) Error() string {
	if e.Kind == KindInternal && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	default:
		return ErrInternal
	}
}

// Validation reports invalid input for field.
func Validation(field, format string, args ...any) error {
	return &Error{
		Kind:    KindValidation,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %q not found", entity, id),
	}
}

// Conflict reports a uniqueness violation.
func Conflict(format string, args ...any) error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal wraps a persistence failure. op names the failed operation
// and is kept with the cause for logs.
func Internal(op string, cause error) error {
	return &Error{
		Kind:    KindInternal,
		Message: internalMessage,
		Err:     fmt.Errorf("%s: %w", op, cause),
	}
}

// KindOf classifies any error. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != KindInternal {
		return fe.Message
	}
	return internalMessage
}
