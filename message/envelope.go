package message

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/timestamp"
)

// TagPrefix starts every generated correlation tag.
const TagPrefix = "MS:"

var tagPattern = regexp.MustCompile(`^MS:\d+$`)

// Envelope is the application-level message exchanged with a peer.
type Envelope struct {
	Type   Type   `json:"Type"`
	Sender string `json:"Sender,omitempty"`
	Tag    string `json:"Tag,omitempty"`
	Values Values `json:"Values"`
}

// New creates an envelope of the given type with optional key/value pairs.
func New(t Type, pairs ...any) *Envelope {
	return &Envelope{Type: t, Values: NewValues(pairs...)}
}

// NewTag returns a correlation tag for now. Two tags created in the same
// millisecond are equal.
func NewTag(now time.Time) string {
	return TagPrefix + strconv.FormatInt(timestamp.ToUnixMs(now), 10)
}

// IsTag reports whether s has the generated tag format.
func IsTag(s string) bool {
	return tagPattern.MatchString(s)
}

// EnsureTag assigns a tag when the envelope has none and reports whether it did.
func (e *Envelope) EnsureTag(now time.Time) bool {
	if e.Tag != "" {
		return false
	}
	e.Tag = NewTag(now)
	return true
}

// Set stores a field value and returns the envelope for chaining.
func (e *Envelope) Set(key string, value any) *Envelope {
	e.Values.Set(key, value)
	return e
}

// Get returns a raw field value.
func (e *Envelope) Get(key string) (any, bool) {
	return e.Values.Get(key)
}

// Has reports whether the field is present.
func (e *Envelope) Has(key string) bool {
	return e.Values.Has(key)
}

// Clone returns a copy whose Values can be modified independently.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Values = e.Values.Clone()
	return &c
}

func (e *Envelope) String() string {
	return fmt.Sprintf("%s[%s] from %s (%d values)", e.Type, e.Tag, e.Sender, e.Values.Len())
}

// GetString returns the field as a string. Non-string scalars are formatted.
func (e *Envelope) GetString(key string) (string, bool) {
	v, ok := e.Values.Get(key)
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case fmt.Stringer:
		return s.String(), true
	case float64, float32, int, int64, int32, bool:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

// GetInt returns the field as an int. Numeric strings are accepted.
func (e *Envelope) GetInt(key string) (int, bool) {
	v, ok := e.Values.Get(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// GetFloat returns the field as a float64.
func (e *Envelope) GetFloat(key string) (float64, bool) {
	v, ok := e.Values.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// GetBool returns the field as a bool. "true"/"false" strings and
// numbers (non-zero is true) are accepted.
func (e *Envelope) GetBool(key string) (bool, bool) {
	v, ok := e.Values.Get(key)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		f, ok := toFloat(v)
		return f != 0, ok
	}
}

// GetMap returns the field as a map.
func (e *Envelope) GetMap(key string) (map[string]any, bool) {
	v, ok := e.Values.Get(key)
	if !ok {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Values:
		return m.Map(), true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// GetList returns the field as a list.
func (e *Envelope) GetList(key string) ([]any, bool) {
	v, ok := e.Values.Get(key)
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Decode converts the field into out through JSON, for handlers that want
// a typed value such as map[string]string or a struct.
func (e *Envelope) Decode(key string, out any) error {
	v, ok := e.Values.Get(key)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: field %s missing", errors.ErrInvalidData, key),
			"Envelope", "Decode", "read field")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Envelope", "Decode", "encode field "+key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Envelope", "Decode", "convert field "+key)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// Equal reports whether two field values are equal, comparing numbers by value
// so that 5 matches 5.0 after a JSON round trip.
func Equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if okA && okB && !aStr && !bStr {
		return fa == fb
	}
	switch av := a.(type) {
	case string, bool, nil:
		return a == b
	default:
		da, errA := json.Marshal(av)
		db, errB := json.Marshal(b)
		return errA == nil && errB == nil && string(da) == string(db)
	}
}
