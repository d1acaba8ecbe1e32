// Package apperr holds the application error taxonomy. Every error carries the
// HTTP status the transport layer should answer with.
package apperr

import (
	"errors"
	"net/http"
)

type Error struct {
	Code    int
	Message string
	Details any
	Err     error
}

func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on the sentinel identity, so a wrapped copy still satisfies
// errors.Is(err, ErrDuplicateUser).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// Wrap returns a copy of sentinel that carries cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Details: sentinel.Details,
		Err:     cause,
	}
}

func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

var (
	ErrWeakPassword   = New(http.StatusBadRequest, "Provided password is weak. Please provide a stronger password.")
	ErrDuplicateUser  = New(http.StatusBadRequest, "User already exists")
	ErrAuthentication = New(http.StatusUnauthorized, "Invalid credentials")
	ErrInvalidToken   = New(http.StatusForbidden, "Invalid refresh token")
	ErrValidation     = New(http.StatusBadRequest, "Validation failed")
)

// StatusOf reports the status carried by err, or 500 for untagged errors.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return http.StatusInternalServerError
}
