package errors

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the session taxonomy an error belongs to
type Kind int

const (
	// KindConnection covers transport connect and login failures
	KindConnection Kind = iota
	// KindProtocol covers API misuse and peer-reported ERROR envelopes
	KindProtocol
	// KindLiveness covers watchdog-detected silence and announced unavailability
	KindLiveness
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindLiveness:
		return "liveness"
	default:
		return "unknown"
	}
}

// SessionError is an error raised by the connection or session layer.
// Detail carries kind-specific context, e.g. the ERROR envelope a peer sent.
type SessionError struct {
	Kind   Kind
	Op     string
	Err    error
	Detail any
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a connection error for op
func NewConnectionError(op string, err error) *SessionError {
	return &SessionError{Kind: KindConnection, Op: op, Err: err}
}

// NewProtocolError creates a protocol error for op with optional detail
func NewProtocolError(op string, err error, detail any) *SessionError {
	return &SessionError{Kind: KindProtocol, Op: op, Err: err, Detail: detail}
}

// NewLivenessError creates a liveness error for op
func NewLivenessError(op string, err error) *SessionError {
	return &SessionError{Kind: KindLiveness, Op: op, Err: err}
}

// IsConnectionError reports whether err is a connection error
func IsConnectionError(err error) bool {
	return isKind(err, KindConnection)
}

// IsProtocolError reports whether err is a protocol error
func IsProtocolError(err error) bool {
	return isKind(err, KindProtocol)
}

// IsLivenessError reports whether err is a liveness error
func IsLivenessError(err error) bool {
	return isKind(err, KindLiveness)
}

func isKind(err error, kind Kind) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
