package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/c360/chatsession/errors"
)

// Values is an insertion-ordered mapping from field name to value.
// The zero value is empty and ready to use.
type Values struct {
	keys []string
	m    map[string]any
}

// NewValues builds Values from alternating key/value pairs.
func NewValues(pairs ...any) Values {
	var v Values
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		v.Set(key, pairs[i+1])
	}
	return v
}

// Set stores value under key. Existing keys keep their position.
func (v *Values) Set(key string, value any) {
	if v.m == nil {
		v.m = make(map[string]any)
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = value
}

// Get returns the value stored under key.
func (v Values) Get(key string) (any, bool) {
	value, ok := v.m[key]
	return value, ok
}

// Has reports whether key is present.
func (v Values) Has(key string) bool {
	_, ok := v.m[key]
	return ok
}

// Delete removes key.
func (v *Values) Delete(key string) {
	if _, ok := v.m[key]; !ok {
		return
	}
	delete(v.m, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (v Values) Keys() []string {
	keys := make([]string, len(v.keys))
	copy(keys, v.keys)
	return keys
}

// Len returns the number of entries.
func (v Values) Len() int {
	return len(v.keys)
}

// Map returns an unordered copy.
func (v Values) Map() map[string]any {
	out := make(map[string]any, len(v.m))
	for k, value := range v.m {
		out[k] = value
	}
	return out
}

// Clone returns a shallow copy that does not share storage with v.
func (v Values) Clone() Values {
	var out Values
	for _, k := range v.keys {
		out.Set(k, v.m[k])
	}
	return out
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(v.m[k])
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "Values.MarshalJSON",
				fmt.Sprintf("encode field %s", k))
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the order of its keys.
// Numbers decode as float64, objects as map[string]any and arrays as []any.
func (v *Values) UnmarshalJSON(data []byte) error {
	*v = Values{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.WrapInvalid(err, "message", "Values.UnmarshalJSON", "read object start")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.WrapInvalid(
			fmt.Errorf("%w: values must be an object", errors.ErrInvalidData),
			"message", "Values.UnmarshalJSON", "read object start")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.WrapInvalid(err, "message", "Values.UnmarshalJSON", "read key")
		}
		key, ok := tok.(string)
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: non-string key %v", errors.ErrInvalidData, tok),
				"message", "Values.UnmarshalJSON", "read key")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return errors.WrapInvalid(err, "message", "Values.UnmarshalJSON",
				fmt.Sprintf("read value of %s", key))
		}
		v.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return errors.WrapInvalid(err, "message", "Values.UnmarshalJSON", "read object end")
	}
	return nil
}
