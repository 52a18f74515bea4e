package rqlite

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInterface represents malformed caller input, such as an
	// unadaptable parameter value or a non-string statement
	ErrorTypeInterface
	// ErrorTypeProgramming represents a statement/parameter mismatch
	// detected before a request is sent
	ErrorTypeProgramming
	// ErrorTypeDatabase represents an execution failure reported by the
	// cluster inside the response envelope
	ErrorTypeDatabase
	// ErrorTypeOperational represents a transport or HTTP-level failure
	// that was not resolved by retry or redirect
	ErrorTypeOperational
	// ErrorTypeNotSupported represents features intentionally left
	// unimplemented
	ErrorTypeNotSupported
)

// Error represents a structured error with type information
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// NewError creates a new Error with the specified type and message
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with the specified type, message, and underlying cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInterfaceError creates an interface-contract error
func NewInterfaceError(format string, args ...any) *Error {
	return NewError(ErrorTypeInterface, fmt.Sprintf(format, args...))
}

// NewProgrammingError creates a statement/parameter binding error
func NewProgrammingError(format string, args ...any) *Error {
	return NewError(ErrorTypeProgramming, fmt.Sprintf(format, args...))
}

// NewDatabaseError creates an error carrying a serialized per-statement
// failure reported by the cluster
func NewDatabaseError(message string) *Error {
	return NewError(ErrorTypeDatabase, message)
}

// NewOperationalError creates a transport-level error with an optional
// HTTP status code
func NewOperationalError(message string, statusCode int) *Error {
	return &Error{
		Type:       ErrorTypeOperational,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewNotSupportedError creates an error for intentionally unimplemented
// features
func NewNotSupportedError(feature string) *Error {
	return NewError(ErrorTypeNotSupported, fmt.Sprintf("%s is not supported", feature))
}

func asError(err error) (*Error, bool) {
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr, true
	}
	return nil, false
}

// IsInterfaceError checks if an error is an interface-contract error
func IsInterfaceError(err error) bool {
	if rErr, ok := asError(err); ok {
		return rErr.IsType(ErrorTypeInterface)
	}
	return false
}

// IsProgrammingError checks if an error is a binding error
func IsProgrammingError(err error) bool {
	if rErr, ok := asError(err); ok {
		return rErr.IsType(ErrorTypeProgramming)
	}
	return false
}

// IsDatabaseError checks if an error was reported by the cluster
func IsDatabaseError(err error) bool {
	if rErr, ok := asError(err); ok {
		return rErr.IsType(ErrorTypeDatabase)
	}
	return false
}

// IsOperationalError checks if an error is transport-related
func IsOperationalError(err error) bool {
	if rErr, ok := asError(err); ok {
		return rErr.IsType(ErrorTypeOperational)
	}
	return false
}

// IsNotSupportedError checks if an error marks an unimplemented feature
func IsNotSupportedError(err error) bool {
	if rErr, ok := asError(err); ok {
		return rErr.IsType(ErrorTypeNotSupported)
	}
	return false
}
