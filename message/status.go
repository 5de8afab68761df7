package message

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/timestamp"
)

// Status is the peer's answer to a status request.
type Status struct {
	ServiceName      string
	StatusCode       int
	StatusMessage    string
	StatusDetails    map[string]any
	ServerTime       time.Time
	ServerTimeOffset int
}

// Summary renders "name (code) @ time".
func (s Status) Summary() string {
	name := s.ServiceName
	if name == "" {
		name = "Unknown Service"
	}
	summary := fmt.Sprintf("%s (%d)", name, s.StatusCode)
	if !s.ServerTime.IsZero() {
		summary += " @ " + s.ServerTime.Format(timestamp.DisplayLayout)
	}
	return summary
}

// Details renders one "key: value" line per status detail, sorted by key.
func (s Status) Details(lf string) string {
	if lf == "" {
		lf = "\n"
	}
	keys := make([]string, 0, len(s.StatusDetails))
	for k := range s.StatusDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v%s", k, s.StatusDetails[k], lf)
	}
	return b.String()
}

// StatusFromEnvelope converts a STATUS_RESPONSE (or a status-update
// NOTIFICATION) into a Status after validating its fields.
func StatusFromEnvelope(env *Envelope) (Status, error) {
	if err := Validate(env, TypeStatusResponse); err != nil {
		return Status{}, err
	}

	var s Status
	s.ServiceName, _ = env.GetString("ServiceName")
	s.StatusCode, _ = env.GetInt("StatusCode")
	s.StatusMessage, _ = env.GetString("StatusMessage")
	if details, ok := env.GetMap("StatusDetails"); ok {
		s.StatusDetails = details
	} else {
		s.StatusDetails = map[string]any{}
	}
	s.ServerTimeOffset, _ = env.GetInt("ServerTimeOffset")
	if raw, ok := env.Get("ServerTime"); ok {
		s.ServerTime = timestamp.ParseTime(raw)
	}
	// ServerTimeOffset is the server's UTC offset in minutes
	if !s.ServerTime.IsZero() {
		s.ServerTime = s.ServerTime.In(time.FixedZone("", s.ServerTimeOffset*60))
	}
	return s, nil
}

// ErrorMessageOf returns the message carried by an ERROR envelope. When the
// values do not fit the ERROR schema it returns a generic message and the
// validation error.
func ErrorMessageOf(env *Envelope) (string, error) {
	const generic = "peer reported an error"
	if err := Validate(env, TypeError); err != nil {
		return generic, err
	}
	if msg, ok := env.GetString(FieldMessage); ok && msg != "" {
		return msg, nil
	}
	return generic, nil
}

// CommandOf returns the lowercased command of a COMMAND or COMMAND_RESPONSE.
// COMMAND values are also checked against the COMMAND schema.
func CommandOf(env *Envelope) (string, error) {
	cmd, ok := env.GetString(FieldCommand)
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if !ok || cmd == "" {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: envelope %s has no command", errors.ErrEmptyCommand, env.Tag),
			"message", "CommandOf", "read command")
	}
	if env.Type == TypeCommand {
		if err := Validate(env, TypeCommand); err != nil {
			return "", err
		}
	}
	return cmd, nil
}

// ArgumentsOf returns the Arguments list of a COMMAND envelope.
func ArgumentsOf(env *Envelope) []any {
	args, _ := env.GetList(FieldArguments)
	return args
}
