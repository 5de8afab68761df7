package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
		class     ErrorClass
	}{
		{name: "nil", err: nil, class: ErrorTransient},
		{name: "connection timeout", err: ErrConnectionTimeout, transient: true, class: ErrorTransient},
		{name: "connection lost", err: ErrConnectionLost, transient: true, class: ErrorTransient},
		{name: "deadline", err: context.DeadlineExceeded, transient: true, class: ErrorTransient},
		{name: "canceled", err: context.Canceled, transient: true, class: ErrorTransient},
		{name: "network message", err: fmt.Errorf("network unreachable"), transient: true, class: ErrorTransient},
		{name: "unknown", err: fmt.Errorf("something odd"), class: ErrorTransient},
		{name: "empty command", err: ErrEmptyCommand, invalid: true, class: ErrorInvalid},
		{name: "parsing failed", err: fmt.Errorf("decode: %w", ErrParsingFailed), invalid: true, class: ErrorInvalid},
		{name: "invalid config", err: ErrInvalidConfig, fatal: true, class: ErrorFatal},
		{name: "wrapped missing config", err: fmt.Errorf("load: %w", ErrMissingConfig), fatal: true, class: ErrorFatal},
		{name: "liveness", err: NewLivenessError("tick", ErrPeerNotResponding), transient: true, class: ErrorTransient},
		{name: "connection", err: NewConnectionError("connect", fmt.Errorf("refused")), transient: true, class: ErrorTransient},
		{name: "protocol", err: NewProtocolError("receive", ErrPeerError, nil), invalid: true, class: ErrorInvalid},
		{name: "explicit class wins", err: WrapInvalid(ErrConnectionLost, "Manager", "Send", "check state"), invalid: true, class: ErrorInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.invalid, IsInvalid(tt.err), "IsInvalid")
			assert.Equal(t, tt.fatal, IsFatal(tt.err), "IsFatal")
			assert.Equal(t, tt.class, Classify(tt.err), "Classify")
		})
	}
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(999).String())
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Manager", "Connect", "dial transport"))

	err := Wrap(fmt.Errorf("refused"), "Manager", "Connect", "dial transport")
	assert.EqualError(t, err, "Manager.Connect: dial transport failed: refused")
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{WrapTransient, ErrorTransient},
		{WrapFatal, ErrorFatal},
		{WrapInvalid, ErrorInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			err := tt.wrap(ErrAlreadyConnecting, "Manager", "Connect", "check state")

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Manager", ce.Component)
			assert.Equal(t, "Connect", ce.Operation)
			assert.EqualError(t, err, "Manager.Connect: check state failed: connect or login already in progress")
			assert.ErrorIs(t, err, ErrAlreadyConnecting)
			assert.NoError(t, tt.wrap(nil, "Manager", "Connect", "check state"))
		})
	}
}

func TestSessionError(t *testing.T) {
	detail := map[string]any{"Message": "boom"}
	err := NewProtocolError("receive", ErrPeerError, detail)

	assert.EqualError(t, err, "protocol error in receive: peer reported an error")
	assert.ErrorIs(t, err, ErrPeerError)
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsLivenessError(err))
	assert.False(t, IsConnectionError(err))

	var se *SessionError
	require.True(t, errors.As(fmt.Errorf("dispatch: %w", err), &se))
	assert.Equal(t, detail, se.Detail)

	bare := &SessionError{Kind: KindLiveness, Err: ErrPeerUnavailable}
	assert.EqualError(t, bare, "liveness error: peer is not available")
	assert.True(t, IsLivenessError(fmt.Errorf("tick: %w", bare)))
	assert.False(t, IsConnectionError(fmt.Errorf("plain")))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "connection", KindConnection.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "liveness", KindLiveness.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
