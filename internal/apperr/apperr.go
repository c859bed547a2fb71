// Package apperr defines the error taxonomy shared by the scheduling core.
// Every failure surfaced to a caller carries a distinguishable kind plus a
// human-readable detail string.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindValidation means a malformed or missing input field.
	KindValidation Kind = iota
	// KindInvalidRange means a date range with start after end.
	KindInvalidRange
	// KindNotFound means an id or reference did not resolve.
	KindNotFound
	// KindConflict means an overlapping booking or a stale concurrent write.
	KindConflict
	// KindPersistence means the backing store was unreachable or a write failed.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidRange:
		return "invalid_range"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by the core.
type Error struct {
	Kind   Kind
	Detail string
	// Fields names the offending input fields for validation errors.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s (fields: %s)", msg, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a KindValidation error naming the offending fields.
func Validation(detail string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Detail: detail, Fields: fields}
}

// InvalidRange builds a KindInvalidRange error.
func InvalidRange(detail string) *Error {
	return &Error{Kind: KindInvalidRange, Detail: detail}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Conflict builds a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

// Persistence wraps a backing-store failure.
func Persistence(err error, detail string) *Error {
	return &Error{Kind: KindPersistence, Detail: detail, Err: err}
}

// KindOf extracts the kind from err; ok is false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// FieldsOf returns the offending field names for validation errors.
func FieldsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
