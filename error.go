package gamecore

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// Validation signals a game-rule or argument violation.
	Validation
	// NotFound signals a missing entity or resource.
	NotFound
	// Conflict signals an optimistic version conflict detected on save.
	Conflict
	// LockAcquisitionFailure signals a lock wait that exhausted its budget.
	LockAcquisitionFailure
	// Internal signals an unexpected failure.
	Internal
)

// Engine custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given code.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code ErrorCode, format string, args ...any) Error {
	return Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// IsCode reports whether err is (or wraps) an engine Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the engine error code from err, defaulting to Internal for
// foreign errors and Unknown for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Unknown
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
