package filter

import (
	"fmt"
	"strings"

	"github.com/c360/chatsession/message"
)

// Handler receives an envelope that matched a filter.
type Handler func(env *message.Envelope)

// FieldMatch requires a field to be present with an equal value.
type FieldMatch struct {
	Key   string
	Value any
}

// Filter pairs a match predicate with a handler. Zero-valued criteria match
// anything, so a Filter with only a Handler receives every envelope.
type Filter struct {
	Name string

	// Sender matches the bare sender identity, case-insensitively.
	Sender string

	// Type matches the envelope type. TypeUnknown matches any type.
	Type message.Type

	// Command matches the lowercased Command field.
	Command string

	// Fields must all be present.
	Fields []string

	Match *FieldMatch

	Handler Handler
}

// Matches reports whether env satisfies every criterion of f.
func (f *Filter) Matches(env *message.Envelope) bool {
	if env == nil {
		return false
	}
	if f.Sender != "" && !message.SameID(f.Sender, env.Sender) {
		return false
	}
	if f.Type != message.TypeUnknown && f.Type != env.Type {
		return false
	}
	if f.Command != "" {
		cmd, err := message.CommandOf(env)
		if err != nil || cmd != strings.ToLower(strings.TrimSpace(f.Command)) {
			return false
		}
	}
	for _, field := range f.Fields {
		if !env.Has(field) {
			return false
		}
	}
	if f.Match != nil {
		v, ok := env.Get(f.Match.Key)
		if !ok || !message.Equal(v, f.Match.Value) {
			return false
		}
	}
	return true
}

func (f *Filter) String() string {
	if f.Name != "" {
		return f.Name
	}
	var parts []string
	if f.Type != message.TypeUnknown {
		parts = append(parts, f.Type.String())
	}
	if f.Command != "" {
		parts = append(parts, "command="+f.Command)
	}
	if len(f.Fields) > 0 {
		parts = append(parts, "fields="+strings.Join(f.Fields, ","))
	}
	if f.Match != nil {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Match.Key, f.Match.Value))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// CommandResponse matches COMMAND_RESPONSE envelopes answering command.
func CommandResponse(command string, h Handler) *Filter {
	return &Filter{
		Name:    "command-response:" + strings.ToLower(command),
		Type:    message.TypeCommandResponse,
		Command: command,
		Handler: h,
	}
}

// Notification matches NOTIFICATION envelopes carrying every named field.
func Notification(h Handler, fields ...string) *Filter {
	return &Filter{
		Name:    "notification:" + strings.Join(fields, ","),
		Type:    message.TypeNotification,
		Fields:  fields,
		Handler: h,
	}
}

// Alert matches ALERT envelopes.
func Alert(h Handler) *Filter {
	return &Filter{Name: "alert", Type: message.TypeAlert, Handler: h}
}

// Data matches envelopes of any type whose key field equals value.
func Data(key string, value any, h Handler) *Filter {
	return &Filter{
		Name:    fmt.Sprintf("data:%s=%v", key, value),
		Match:   &FieldMatch{Key: key, Value: value},
		Handler: h,
	}
}

// Of matches every envelope of type t.
func Of(t message.Type, h Handler) *Filter {
	return &Filter{Name: "type:" + t.String(), Type: t, Handler: h}
}
