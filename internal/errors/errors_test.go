package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	field := "factor"
	value := 1.0
	reason := "must be greater than 1"

	err := NewValidationError(field, value, reason)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), field)
	assert.Contains(t, err.Error(), "1")
	assert.Contains(t, err.Error(), reason)
	assert.Contains(t, err.Error(), "validation error")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrTransport))
}

func TestTransportError(t *testing.T) {
	operation := "write"
	endpoint := "/dev/ttyUSB0"
	cause := errors.New("device removed")

	err := NewTransportError(operation, endpoint, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), endpoint)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "transport error")
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
}

func TestFileSystemError(t *testing.T) {
	operation := "mkdir"
	path := "/var/log/linkprobe"
	cause := errors.New("permission denied")

	err := NewFileSystemError(operation, path, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "file system error")
	assert.True(t, errors.Is(err, ErrFileSystem))
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	transport := fmt.Errorf("trial aborted: %w", NewTransportError("read", "tcp://127.0.0.1:4000", errors.New("EOF")))
	validation := fmt.Errorf("invalid configuration: %w", NewValidationError("timeout", 0, "must be positive"))

	assert.True(t, IsTransport(transport))
	assert.False(t, IsValidation(transport))
	assert.True(t, IsValidation(validation))
	assert.False(t, IsTransport(validation))

	var te *TransportError
	if assert.True(t, errors.As(transport, &te)) {
		assert.Equal(t, "read", te.Op)
	}
}
