// Package apperr defines the engine's error taxonomy. Every rejected action
// maps to one of the named kinds; the HTTP layer translates kinds to status
// codes so business-rule violations never surface as opaque server errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks a malformed schedule or grace configuration.
	KindValidation
	// KindConflict marks a stale command version or a precondition-mismatched
	// transaction. The caller should re-fetch and retry.
	KindConflict
	// KindNotFound marks an unknown command, occurrence, or event id.
	KindNotFound
	// KindUndoExpired marks an undo requested past the 30-second window.
	KindUndoExpired
	// KindTransactionAborted marks contention retries exhausted.
	KindTransactionAborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUndoExpired:
		return "undo_expired"
	case KindTransactionAborted:
		return "transaction_aborted"
	default:
		return "unknown"
	}
}

// Error is a kinded application error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether target is an *Error of the same kind, so sentinel-style
// checks like errors.Is(err, apperr.Conflict("")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Validation creates a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Conflict creates a KindConflict error.
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// UndoExpired creates a KindUndoExpired error.
func UndoExpired(format string, args ...interface{}) *Error {
	return newf(KindUndoExpired, format, args...)
}

// TransactionAborted creates a KindTransactionAborted error wrapping the last
// attempt's failure.
func TransactionAborted(err error) *Error {
	return &Error{kind: KindTransactionAborted, msg: "transaction retries exhausted", err: err}
}

// Wrap attaches a cause to an existing kinded error message.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
