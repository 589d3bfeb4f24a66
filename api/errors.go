// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-prefork.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotSupported      = errors.New("operation not supported")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrNotFound          = errors.New("resource not found")
	ErrClosed            = errors.New("resource is closed")
	ErrNoLiveWorker      = errors.New("no live worker")
)

// ErrorCode classifies a structured Error. The zero code has no sentinel.
type ErrorCode int

const (
	ErrCodeAlreadyExists ErrorCode = iota + 1
	ErrCodeResourceExhausted
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeAlreadyExists:     ErrAlreadyExists,
	ErrCodeResourceExhausted: ErrResourceExhausted,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap maps the code onto its sentinel so errors.Is matches both forms.
func (e *Error) Unwrap() error {
	return codeSentinels[e.Code]
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
