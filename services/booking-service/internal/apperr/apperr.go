// Package apperr defines the error kinds the scheduling engine reports to callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidWindow     Kind = "InvalidWindow"
	KindConflict          Kind = "ConflictDetected"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotFound          Kind = "NotFound"
	KindValidation        Kind = "ValidationError"
	// KindInternal is never constructed directly; KindOf reports it for
	// errors that carry no kind (storage failures and the like).
	KindInternal Kind = "Internal"
)

// Sentinels for errors.Is comparisons: errors.Is(err, apperr.ErrConflict).
var (
	ErrInvalidWindow     = &Error{Kind: KindInvalidWindow}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return string(e.Kind) + ": " + e.Message
	case e.Message == "":
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidWindow(format string, args ...any) error {
	return New(KindInvalidWindow, format, args...)
}

func Conflict(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

func InvalidTransition(format string, args ...any) error {
	return New(KindInvalidTransition, format, args...)
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message for err. Errors without a kind
// get a generic text so storage details never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	return "internal error"
}
