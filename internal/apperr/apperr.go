// Package apperr defines the error kinds shared by the core packages. Callers
// branch on Kind; the HTTP layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindCycleDetected      Kind = "CYCLE_DETECTED"
	KindConflictingUpdate  Kind = "CONFLICTING_UPDATE"
	KindForbiddenOperation Kind = "FORBIDDEN_OPERATION"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindInvalidHierarchy   Kind = "INVALID_HIERARCHY"
	KindDataIntegrity      Kind = "DATA_INTEGRITY_FAULT"
	KindAccessDenied       Kind = "ACCESS_DENIED"
	KindUnauthorized       Kind = "UNAUTHORIZED"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func CycleDetected(format string, args ...any) *Error {
	return New(KindCycleDetected, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflictingUpdate, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbiddenOperation, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, format, args...)
}

func InvalidHierarchy(format string, args ...any) *Error {
	return New(KindInvalidHierarchy, format, args...)
}

func DataIntegrity(format string, args ...any) *Error {
	return New(KindDataIntegrity, format, args...)
}

func AccessDenied(format string, args ...any) *Error {
	return New(KindAccessDenied, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
