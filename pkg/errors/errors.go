// Package errors provides the error kinds surfaced by the simulated transport.
// This is a leaf package with no internal dependencies so the wire codecs,
// the domain model and the session layer can all share it.
//
// Import graph: errors <- wire/iba <- sim
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the kind of failure that occurred.
type ErrorCode int

const (
	// ErrConnection indicates address resolution or socket setup failed.
	// Fatal for the session, never retried.
	ErrConnection ErrorCode = iota + 1

	// ErrProtocol indicates a malformed or undersized wire reply.
	ErrProtocol

	// ErrConfiguration indicates required fabric state is missing, such as
	// the administrative partition key. Raised lazily on first use.
	ErrConfiguration

	// ErrInvalidArgument indicates the caller violated a contract, such as
	// handing the transport a payload larger than the wire slot.
	ErrInvalidArgument

	// ErrClosed indicates the session was already torn down.
	ErrClosed
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrConnection:
		return "ConnectionError"
	case ErrProtocol:
		return "ProtocolError"
	case ErrConfiguration:
		return "ConfigurationError"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(e))
	}
}

// SimError is an error raised by the simulated transport.
type SimError struct {
	Code    ErrorCode
	Op      string // operation that failed, e.g. "connect", "control GET_PORTINFO"
	Message string
	Err     error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *SimError) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SimError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *SimError carrying the same code.
// This lets callers write errors.Is(err, &SimError{Code: ErrProtocol}).
func (e *SimError) Is(target error) bool {
	t, ok := target.(*SimError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewConnectionError creates a ConnectionError wrapping cause.
func NewConnectionError(op string, cause error) *SimError {
	return &SimError{
		Code:    ErrConnection,
		Op:      op,
		Message: "simulator connection failed",
		Err:     cause,
	}
}

// NewProtocolError creates a ProtocolError with a formatted message.
func NewProtocolError(op, format string, args ...any) *SimError {
	return &SimError{
		Code:    ErrProtocol,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(op, message string) *SimError {
	return &SimError{
		Code:    ErrConfiguration,
		Op:      op,
		Message: message,
	}
}

// NewInvalidArgumentError creates an InvalidArgument error.
func NewInvalidArgumentError(op, format string, args ...any) *SimError {
	return &SimError{
		Code:    ErrInvalidArgument,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewClosedError creates a Closed error.
func NewClosedError(op string) *SimError {
	return &SimError{
		Code:    ErrClosed,
		Op:      op,
		Message: "session closed",
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the code of the first *SimError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var simErr *SimError
	if errors.As(err, &simErr) {
		return simErr.Code
	}
	return 0
}

// IsConnectionError returns true if err is a ConnectionError.
func IsConnectionError(err error) bool {
	return CodeOf(err) == ErrConnection
}

// IsProtocolError returns true if err is a ProtocolError.
func IsProtocolError(err error) bool {
	return CodeOf(err) == ErrProtocol
}

// IsConfigurationError returns true if err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	return CodeOf(err) == ErrConfiguration
}

// IsInvalidArgumentError returns true if err is an InvalidArgument error.
func IsInvalidArgumentError(err error) bool {
	return CodeOf(err) == ErrInvalidArgument
}

// IsClosedError returns true if err reports a closed session.
func IsClosedError(err error) bool {
	return CodeOf(err) == ErrClosed
}
