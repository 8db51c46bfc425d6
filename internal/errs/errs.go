// Package errs defines the typed error taxonomy returned by store and
// handler operations, so callers can distinguish retryable failures from
// permanent ones without string matching.
package errs

import (
	"fmt"

	errors "github.com/Laisky/errors/v2"
)

// Code identifies a machine-stable error category.
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeEmbedding       Code = "EMBEDDING"
	CodeDatabase        Code = "DATABASE"
	CodeParse           Code = "PARSE"
	CodeRollbackFailure Code = "ROLLBACK_FAILURE"
)

// Error is a typed error carrying a stable code and a retry hint.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "ragmcp error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("ragmcp error: %s", e.Code)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewError constructs a typed error with no wrapped cause.
func NewError(code Code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// Wrap constructs a typed error that wraps cause, preserving its stack via
// errors.As/errors.Is traversal.
func Wrap(cause error, code Code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, cause: cause}
}

// AsError extracts a typed error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code Code) bool {
	typed, ok := AsError(err)
	return ok && typed.Code == code
}

// IsRetryable reports whether the error chain carries a retryable typed error.
func IsRetryable(err error) bool {
	typed, ok := AsError(err)
	return ok && typed.Retryable
}

// RollbackFailure composites an original failure with a follow-up failure
// that occurred while attempting to undo a partial write. Both messages are
// preserved since either one alone would hide data-loss risk from the caller.
type RollbackFailure struct {
	Original error
	Rollback error
}

// Error implements the error interface.
func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("operation failed (%v) and rollback also failed (%v); data may be inconsistent", e.Original, e.Rollback)
}

// Unwrap exposes the original failure as the primary cause.
func (e *RollbackFailure) Unwrap() error {
	return e.Original
}
