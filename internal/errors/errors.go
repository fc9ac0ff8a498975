// Package errors defines the coded error taxonomy shared by every wayup
// package. Codes are stable so tests and the CLI can branch on them without
// matching message text.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error category.
type ErrorCode string

const (
	ErrUnknown ErrorCode = "UNKNOWN"

	// ErrPrecondition covers wrong privilege level, unsupported OS family and
	// missing collaborator directories. Always raised before any action runs.
	ErrPrecondition ErrorCode = "PRECONDITION"
	// ErrManifest covers malformed manifest input. Raised before execution.
	ErrManifest ErrorCode = "MANIFEST"
	ErrConfig   ErrorCode = "CONFIG"

	ErrActionFailed      ErrorCode = "ACTION_FAILED"
	ErrFallbackExhausted ErrorCode = "FALLBACK_EXHAUSTED"
	ErrRequiredFailed    ErrorCode = "REQUIRED_FAILED"
	ErrInterrupted       ErrorCode = "INTERRUPTED"
)

// Error is a structured error with a code and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]interface{})}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Wrapped = err
	return e
}

// Wrapf wraps err with a code and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithDetail attaches a key/value detail and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode reports whether err (or anything it wraps) carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode returns the code of the outermost *Error in err's chain, or
// ErrUnknown.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details of the outermost *Error in err's chain.
func GetErrorDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
