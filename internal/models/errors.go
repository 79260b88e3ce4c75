package models

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors for propagation decisions: invalid
// arguments fail fast, transient access errors are retried before
// surfacing, capacity errors are auto-chunked and should never reach a
// caller, and index unavailability is fatal.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindTransientAccess
	KindCapacityExceeded
	KindPartialBackfill
	KindIndexUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransientAccess:
		return "transient_access"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindPartialBackfill:
		return "partial_backfill"
	case KindIndexUnavailable:
		return "index_unavailable"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
