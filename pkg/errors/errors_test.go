package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimError_Message(t *testing.T) {
	err := NewConnectionError("connect", io.EOF)
	assert.Equal(t, "ConnectionError (connect): simulator connection failed: EOF", err.Error())

	perr := NewProtocolError("", "short reply: %d bytes", 12)
	assert.Equal(t, "ProtocolError: short reply: 12 bytes", perr.Error())
}

func TestSimError_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"connection", NewConnectionError("connect", io.EOF), IsConnectionError},
		{"protocol", NewProtocolError("decode", "bad"), IsProtocolError},
		{"configuration", NewConfigurationError("sa path", "no pkey"), IsConfigurationError},
		{"invalid argument", NewInvalidArgumentError("send", "too big"), IsInvalidArgumentError},
		{"closed", NewClosedError("control"), IsClosedError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped), "predicate must see through wrapping")
		})
	}

	assert.False(t, IsProtocolError(io.EOF))
	assert.False(t, IsProtocolError(nil))
}

func TestSimError_UnwrapAndIs(t *testing.T) {
	err := NewConnectionError("dial", io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.Is(err, &SimError{Code: ErrConnection}))
	assert.False(t, errors.Is(err, &SimError{Code: ErrProtocol}))
}
