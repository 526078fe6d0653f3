// Package kernelerr defines the typed error kinds the kernel surfaces.
// The kernel itself never writes HTTP responses; internal/transport/http
// maps a Kind to a status code one layer further out.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a kernel error.
type Kind int

const (
	// KindInternal covers store failures and invariant violations.
	KindInternal Kind = iota
	// KindNotFound means a referenced id does not exist.
	KindNotFound
	// KindValidation means malformed or out-of-range input, a circular or
	// duplicate dependency, a self-dependency, or a forbidden gate command.
	KindValidation
	// KindConflict means a claim-conflict: the operation did not write.
	KindConflict
	// KindUnauthorized means auth material is missing when required.
	KindUnauthorized
	// KindForbidden means auth material is present but rejected.
	KindForbidden
)

// Status returns the conventional HTTP status code for a Kind.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return 404
	case KindValidation:
		return 400
	case KindConflict:
		return 409
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	default:
		return 500
	}
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Error is a typed kernel error carrying a machine-readable Kind alongside
// the human message. Callers use errors.As to recover the Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kernel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kernel error of the given kind wrapping a lower-level error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Validation is a convenience constructor for KindValidation.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Internal is a convenience constructor for KindInternal.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}
