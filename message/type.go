package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/chatsession/errors"
)

// Type identifies the kind of an Envelope.
type Type int

// Envelope types. The zero value is not a valid wire type.
const (
	TypeUnknown Type = iota
	TypeInfo
	TypeCommand
	TypeCommandResponse
	TypePing
	TypePingResponse
	TypeSubscribe
	TypeSubscribeResponse
	TypeStatusRequest
	TypeStatusResponse
	TypeNotification
	TypeError
	TypeAlert
)

var typeNames = map[Type]string{
	TypeInfo:              "INFO",
	TypeCommand:           "COMMAND",
	TypeCommandResponse:   "COMMAND_RESPONSE",
	TypePing:              "PING",
	TypePingResponse:      "PING_RESPONSE",
	TypeSubscribe:         "SUBSCRIBE",
	TypeSubscribeResponse: "SUBSCRIBE_RESPONSE",
	TypeStatusRequest:     "STATUS_REQUEST",
	TypeStatusResponse:    "STATUS_RESPONSE",
	TypeNotification:      "NOTIFICATION",
	TypeError:             "ERROR",
	TypeAlert:             "ALERT",
}

// String returns the wire name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether t is one of the wire types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType converts a wire name (case-insensitive) to a Type.
func ParseType(s string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnknown, errors.WrapInvalid(
		fmt.Errorf("%w: unknown envelope type %q", errors.ErrInvalidData, s),
		"message", "ParseType", "parse envelope type")
}

// MarshalJSON encodes the type by name.
func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: type %d", errors.ErrInvalidData, int(t)),
			"message", "Type.MarshalJSON", "encode envelope type")
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the wire name or the numeric value.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseType(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrParsingFailed, string(data)),
			"message", "Type.UnmarshalJSON", "decode envelope type")
	}
	if !Type(n).Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: type %d", errors.ErrInvalidData, n),
			"message", "Type.UnmarshalJSON", "decode envelope type")
	}
	*t = Type(n)
	return nil
}
