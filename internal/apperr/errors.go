package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers at the API boundary
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotAvailable Kind = "NOT_AVAILABLE"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindInconsistent Kind = "INCONSISTENT"
	KindInternal     Kind = "INTERNAL"
)

// Error is a classified application error
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

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed request
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// NotAvailable reports a product that is missing or inactive at order time
func NotAvailable(format string, args ...interface{}) *Error {
	return newf(KindNotAvailable, format, args...)
}

// Unauthorized reports a missing or invalid credential
func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

// NotFound reports a lookup miss
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Inconsistent reports an illegal state transition
func Inconsistent(format string, args ...interface{}) *Error {
	return newf(KindInconsistent, format, args...)
}

// KindOf returns the kind of the first classified error in the chain,
// or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to a response status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindNotAvailable, KindInconsistent:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
