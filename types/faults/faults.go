// Package faults defines the error taxonomy shared by the partition planner, the distribution
// operators and the collective transports.
//
// Every error produced by this module is (or wraps) an *Error, which carries a Kind:
//
//   - PreconditionViolation: invalid construction arguments, like an invalid global shape,
//     splitting a scalar across more than one worker, or rank/size out of range.
//   - ShapeMismatch: a buffer given to Forward/Adjoint doesn't match the configured shapes.
//   - CommunicationFailure: the collective failed (peer crash, group mismatch, transport fault).
//     It is reported to every participant, and the group is unusable afterwards.
//
// Use KindOf or Is to classify an error, even after it has been wrapped.
package faults

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind of failure.
type Kind int

//go:generate go tool enumer -type=Kind -output=gen_kind_enumer.go faults.go

const (
	Unknown Kind = iota
	PreconditionViolation
	ShapeMismatch
	CommunicationFailure
)

// Error is a classified error: a Kind plus the underlying cause, created with github.com/pkg/errors
// so it carries a stack trace (print it with "%+v").
type Error struct {
	Kind  Kind
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.cause.Error())
}

// Unwrap returns the cause, so errors.Is/errors.As see through it.
func (e *Error) Unwrap() error { return e.cause }

// Cause implements the github.com/pkg/errors causer interface.
func (e *Error) Cause() error { return e.cause }

// Format implements fmt.Formatter, so "%+v" prints the stack of the cause.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "%s: %+v", e.Kind, e.cause)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap classifies err with the given kind, adding the formatted message as context.
// It returns nil if err is nil.
//
// If err is already classified, its kind is kept: a CommunicationFailure reported by a transport
// stays a CommunicationFailure when wrapped again by an operator.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if prev := KindOf(err); prev != Unknown {
		kind = prev
	}
	return &Error{Kind: kind, cause: errors.Wrapf(err, format, args...)}
}

// Preconditionf returns a PreconditionViolation error.
func Preconditionf(format string, args ...any) error {
	return New(PreconditionViolation, format, args...)
}

// ShapeMismatchf returns a ShapeMismatch error.
func ShapeMismatchf(format string, args ...any) error {
	return New(ShapeMismatch, format, args...)
}

// Communicationf returns a CommunicationFailure error.
func Communicationf(format string, args ...any) error {
	return New(CommunicationFailure, format, args...)
}

// KindOf returns the Kind of the first *Error found in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
