package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures for transport mapping.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation_error"
	KindNotFound     ErrorKind = "not_found"
	KindStoreFailure ErrorKind = "store_failure"
)

// Error is returned by every service operation that fails.
// Kind is stable and machine readable; Message is safe to show to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrStoreFailure = &Error{Kind: KindStoreFailure}
)

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// rejected wraps an extraction sentinel so errors.Is still finds it.
func rejected(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func storeFailure(message string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindStoreFailure for foreign errors.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindStoreFailure
}
