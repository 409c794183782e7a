// Package apperrors defines the error taxonomy shared across the service.
//
// Services return errors wrapping one of the sentinels below; the HTTP
// boundary maps them onto status codes with errors.Is. Dependency errors are
// the only retryable class.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or missing input the caller can fix.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation that is not legal in the
	// entity's current lifecycle state, such as resolving a request twice.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthenticated indicates no verified identity was presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates a verified identity that lacks the capability.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a concurrent-update guard tripped.
	ErrConflict = errors.New("conflict")

	// ErrDependency indicates a persistence or downstream fault. Callers
	// may retry.
	ErrDependency = errors.New("dependency failure")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Unauthenticatedf wraps ErrUnauthenticated with a formatted message.
func Unauthenticatedf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthenticated)...)
}

// Forbiddenf wraps ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Dependency wraps err as a retryable dependency failure. The original
// error remains reachable through Unwrap for logging.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrDependency)
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrDependency)
}
