// Package apperr defines the error kinds shared by services, stores and
// handlers. Multi-step flows rely on the kind to decide whether a failure
// triggers compensation (Conflict) or is simply propagated, so every
// store adapter must map its backend errors onto these kinds.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the orchestration and HTTP layers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindNotImplemented
)

// Error carries a kind alongside a user-facing message. Err, when set,
// holds the underlying cause and is reachable via errors.Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func NotImplemented(msg string) *Error {
	return &Error{Kind: KindNotImplemented, Msg: msg}
}

// Wrap attaches a cause to a kinded error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool     { return KindOf(err) == KindValidation }
func IsConflict(err error) bool       { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool       { return KindOf(err) == KindNotFound }
func IsUnauthorized(err error) bool   { return KindOf(err) == KindUnauthorized }
func IsForbidden(err error) bool      { return KindOf(err) == KindForbidden }
func IsNotImplemented(err error) bool { return KindOf(err) == KindNotImplemented }
