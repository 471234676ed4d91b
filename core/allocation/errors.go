package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown train, resource, queue entry or suggestion.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the request clashes with current occupancy or queue state.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrExpired indicates a suggestion that is no longer valid.
	ErrExpired = errors.New("expired")
	// ErrUnavailable indicates a dependency failure on the critical path, such as
	// the state store rejecting a write.
	ErrUnavailable = errors.New("unavailable")
)

// Error is returned by every controller operation. Kind is one of the
// sentinel errors above and can be matched with errors.Is.
type Error struct {
	Op     string
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...any) error {
	return newError(op, ErrNotFound, format, args...)
}

func conflict(op, format string, args ...any) error {
	return newError(op, ErrConflict, format, args...)
}

func invalid(op, format string, args ...any) error {
	return newError(op, ErrInvalidArgument, format, args...)
}

func unavailable(op, reason string, err error) error {
	return &Error{Op: op, Kind: ErrUnavailable, Reason: reason, Err: err}
}
