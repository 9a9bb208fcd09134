// Package apperr defines the error taxonomy shared by the credential store,
// the orchestrator and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes an application error.
type Kind string

const (
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindBadRequest   Kind = "bad_request"
	KindValidation   Kind = "validation"
	KindInternal     Kind = "internal"
)

// Error carries a Kind, the failing operation and the subject email.
// Message is safe to show to callers; Cause is for logs only.
type Error struct {
	Kind    Kind
	Op      string
	Email   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Email != "" {
		fmt.Fprintf(&b, " (email=%s)", e.Email)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithOp returns a copy of e annotated with op and email.
func (e *Error) WithOp(op, email string) *Error {
	cp := *e
	cp.Op = op
	cp.Email = email
	return &cp
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Conflict(message string) *Error {
	return newError(KindConflict, message, nil)
}

func Conflictf(format string, args ...any) *Error {
	return newError(KindConflict, fmt.Sprintf(format, args...), nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, message, nil)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func Unauthorized(message string) *Error {
	return newError(KindUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, message, nil)
}

func BadRequest(message string) *Error {
	return newError(KindBadRequest, message, nil)
}

// Validation wraps a hashing or persistence failure.
func Validation(message string, cause error) *Error {
	return newError(KindValidation, message, cause)
}

func Internal(message string, cause error) *Error {
	return newError(KindInternal, message, cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

func IsConflict(err error) bool     { return Is(err, KindConflict) }
func IsNotFound(err error) bool     { return Is(err, KindNotFound) }
func IsUnauthorized(err error) bool { return Is(err, KindUnauthorized) }
func IsBadRequest(err error) bool   { return Is(err, KindBadRequest) }
func IsValidation(err error) bool   { return Is(err, KindValidation) }

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-facing message for err. Unknown and
// internal errors collapse to a generic message.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}
