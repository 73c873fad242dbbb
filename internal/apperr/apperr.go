// Package apperr defines the error taxonomy used at every engine boundary.
// Callers classify with errors.As and map kinds to transport semantics in one
// place (the HTTP response helpers).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	// Internal is the zero value: an unexpected failure.
	Internal Kind = iota
	// NotFound: a zone, owner, or cached record does not exist.
	NotFound
	// Transient: adapter timeout, 5xx, 429, or network failure. Retryable.
	Transient
	// Permanent: bad parameters, non-429 4xx, invalid payload shape,
	// unparseable clock string. Not retryable.
	Permanent
	// Conflict: the operation is rejected by a business rule, e.g. a
	// follower attempting to change prayer settings while locked to a
	// collective owner.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error. RetryAfter carries the upstream Retry-After
// hint in seconds when the kind is Transient and the upstream provided one.
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a classification. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification from err. Unclassified errors are
// Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == Transient }

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// RetryAfterOf returns the Retry-After hint in seconds, or 0.
func RetryAfterOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
