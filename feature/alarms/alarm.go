package alarms

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/timestamp"
)

// AlarmState is the level an alarm is at.
type AlarmState int

// Alarm states, from switched off to the most severe.
const (
	StateDisabled AlarmState = iota
	StateDisconnected
	StateLowered
	StateMinor
	StateModerate
	StateSevere
	StateCritical
)

var stateNames = []string{"DISABLED", "DISCONNECTED", "LOWERED", "MINOR", "MODERATE", "SEVERE", "CRITICAL"}

func (s AlarmState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "AlarmState(" + strconv.Itoa(int(s)) + ")"
}

// Raised reports whether the alarm is sounding at any level.
func (s AlarmState) Raised() bool {
	return s >= StateMinor
}

// ParseAlarmState accepts the numeric value or the name.
func ParseAlarmState(v any) (AlarmState, error) {
	n, err := enumValue(v, stateNames)
	if err != nil {
		return StateDisabled, errors.WrapInvalid(err, "alarms", "ParseAlarmState", "read alarm state")
	}
	return AlarmState(n), nil
}

// Test is the test the alarm panel is running.
type Test int

// Tests.
const (
	TestNone Test = iota
	TestAlarm
	TestBuzzer
	TestPilot
)

var testNames = []string{"NONE", "ALARM", "BUZZER", "PILOT"}

func (t Test) String() string {
	if t >= 0 && int(t) < len(testNames) {
		return testNames[t]
	}
	return "Test(" + strconv.Itoa(int(t)) + ")"
}

// ParseTest accepts the numeric value or the name.
func ParseTest(v any) (Test, error) {
	n, err := enumValue(v, testNames)
	if err != nil {
		return TestNone, errors.WrapInvalid(err, "alarms", "ParseTest", "read test")
	}
	return Test(n), nil
}

// Alarm is one alarm as listed by the alarms service.
type Alarm struct {
	ID           string     `json:"id"`
	State        AlarmState `json:"state"`
	Name         string     `json:"name"`
	Message      string     `json:"message,omitempty"`
	LastRaised   time.Time  `json:"last_raised,omitempty"`
	LastLowered  time.Time  `json:"last_lowered,omitempty"`
	LastDisabled time.Time  `json:"last_disabled,omitempty"`
	Testing      bool       `json:"testing"`
}

// AlarmFromValue converts an alarm as it appears in envelope values: an
// object with ID, State, Name, Message, LastRaised, LastLowered,
// LastDisabled and Testing fields.
func AlarmFromValue(v any) (Alarm, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Alarm{}, errors.WrapInvalid(
			fmt.Errorf("%w: alarm is %T, not an object", errors.ErrInvalidData, v),
			"alarms", "AlarmFromValue", "read alarm")
	}

	var a Alarm
	switch id := m["ID"].(type) {
	case string:
		a.ID = id
	case nil:
	default:
		a.ID = fmt.Sprint(id)
	}
	if a.ID == "" {
		return Alarm{}, errors.WrapInvalid(
			fmt.Errorf("%w: alarm has no ID", errors.ErrInvalidData),
			"alarms", "AlarmFromValue", "read alarm id")
	}

	if raw, ok := m["State"]; ok && raw != nil {
		state, err := ParseAlarmState(raw)
		if err != nil {
			return Alarm{}, err
		}
		a.State = state
	}
	a.Name, _ = m["Name"].(string)
	a.Message, _ = m["Message"].(string)
	a.LastRaised = timestamp.ParseTime(m["LastRaised"])
	a.LastLowered = timestamp.ParseTime(m["LastLowered"])
	a.LastDisabled = timestamp.ParseTime(m["LastDisabled"])
	a.Testing, _ = m["Testing"].(bool)
	return a, nil
}

// AlarmsFromValue converts a list of alarms. Entries that cannot be
// converted are reported together.
func AlarmsFromValue(v any) ([]Alarm, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: alarms is %T, not a list", errors.ErrInvalidData, v),
			"alarms", "AlarmsFromValue", "read alarms")
	}
	out := make([]Alarm, 0, len(list))
	var bad []string
	for i, item := range list {
		a, err := AlarmFromValue(item)
		if err != nil {
			bad = append(bad, fmt.Sprintf("#%d: %v", i, err))
			continue
		}
		out = append(out, a)
	}
	if len(bad) > 0 {
		return out, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(bad, "; ")),
			"alarms", "AlarmsFromValue", "read alarms")
	}
	return out, nil
}

func enumValue(v any, names []string) (int, error) {
	var n int
	switch x := v.(type) {
	case float64:
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.Atoi(s); err == nil {
			n = i
			break
		}
		for i, name := range names {
			if strings.EqualFold(name, s) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: unknown value %q", errors.ErrInvalidData, x)
	default:
		return 0, fmt.Errorf("%w: unsupported %T", errors.ErrInvalidData, v)
	}
	if n < 0 || n >= len(names) {
		return 0, fmt.Errorf("%w: value %d out of range", errors.ErrInvalidData, n)
	}
	return n, nil
}
