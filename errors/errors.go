package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers how to react to an error
type ErrorClass int

const (
	// ErrorTransient may heal by itself, usually through reconnection
	ErrorTransient ErrorClass = iota
	// ErrorInvalid is bad input, bad configuration or API misuse; do not retry
	ErrorInvalid
	// ErrorFatal stops processing
	ErrorFatal
)

var classNames = map[ErrorClass]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if name, ok := classNames[ec]; ok {
		return name
	}
	return "unknown"
}

// Connection lifecycle preconditions
var (
	ErrAlreadyConnecting = errors.New("connect or login already in progress")
	ErrNotConnected      = errors.New("not connected")
	ErrConnectInProgress = errors.New("connection in progress")
	ErrLoginInProgress   = errors.New("login in progress")
	ErrNoConnection      = errors.New("no connection available")
	ErrChatAlreadyExists = errors.New("chat already exists")
	ErrNoChatManager     = errors.New("no chat manager available")
	ErrNotReadyForChat   = errors.New("not ready for chat")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
)

// Protocol failures
var (
	ErrEmptyCommand  = errors.New("command cannot be empty")
	ErrPeerError     = errors.New("peer reported an error")
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
)

// Peer liveness
var (
	ErrPeerUnavailable   = errors.New("peer is not available")
	ErrPeerNotResponding = errors.New("peer is not responding")
)

// Configuration
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError carries an error's class and where it happened
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

var (
	fatalSentinels     = []error{ErrInvalidConfig, ErrMissingConfig}
	invalidSentinels   = []error{ErrInvalidData, ErrParsingFailed, ErrEmptyCommand}
	transientSentinels = []error{
		ErrConnectionTimeout, ErrConnectionLost, ErrPeerNotResponding, ErrPeerUnavailable,
		context.DeadlineExceeded, context.Canceled,
	}
	transientWords = []string{"timeout", "connection", "network", "temporary", "unavailable"}
)

// classOf finds the class of err. An explicit class wins, then the session
// kind, then well-known sentinels, then transient-sounding messages. ok is
// false when nothing identifies the error.
func classOf(err error) (class ErrorClass, ok bool) {
	if err == nil {
		return ErrorTransient, false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	var se *SessionError
	if errors.As(err, &se) {
		if se.Kind == KindProtocol {
			return ErrorInvalid, true
		}
		return ErrorTransient, true
	}

	switch {
	case isAny(err, fatalSentinels):
		return ErrorFatal, true
	case isAny(err, invalidSentinels):
		return ErrorInvalid, true
	case isAny(err, transientSentinels):
		return ErrorTransient, true
	}

	msg := strings.ToLower(err.Error())
	for _, word := range transientWords {
		if strings.Contains(msg, word) {
			return ErrorTransient, true
		}
	}
	return ErrorTransient, false
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is known to be transient
func IsTransient(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsFatal reports whether err should stop processing
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err comes from bad input or API misuse
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Unidentified errors are transient so
// the transport gets a chance to heal them.
func Classify(err error) ErrorClass {
	class, _ := classOf(err)
	return class
}

// Wrap adds context in the form "component.method: action failed: err"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and marks it transient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
