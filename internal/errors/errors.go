package errors

import (
	"errors"
	"fmt"
)

// Error types for different categories of failures
var (
	ErrTransport  = errors.New("transport error")
	ErrFileSystem = errors.New("file system error")
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout error")
	ErrCancelled  = errors.New("operation cancelled")
)

// TransportError represents a failure at the transport handle boundary
// (open, reset, read, write or close of an endpoint).
type TransportError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s on %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// FileSystemError represents file system-related errors
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ValidationError represents an invalid configuration value. It is the only
// fault that prevents a search from starting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Helper functions for creating errors

func NewTransportError(op, endpoint string, err error) error {
	return &TransportError{Op: op, Endpoint: endpoint, Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// IsTransport reports whether err is, or wraps, a transport fault.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsValidation reports whether err is, or wraps, a configuration fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
