package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/errors"
)

func TestNewTag(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	tag := NewTag(now)
	assert.Equal(t, "MS:1700000000123", tag)
	assert.True(t, IsTag(tag))
	assert.False(t, IsTag("MS:"))
	assert.False(t, IsTag("1700000000123"))
	assert.False(t, IsTag("MS:12a"))
}

func TestEnvelope_EnsureTag(t *testing.T) {
	now := time.UnixMilli(42)

	env := New(TypePing)
	assert.True(t, env.EnsureTag(now))
	assert.Equal(t, "MS:42", env.Tag)

	// an existing tag is left alone
	assert.False(t, env.EnsureTag(time.UnixMilli(99)))
	assert.Equal(t, "MS:42", env.Tag)

	custom := &Envelope{Type: TypeCommand, Tag: "custom"}
	custom.EnsureTag(now)
	assert.Equal(t, "custom", custom.Tag)
}

func TestValues_Order(t *testing.T) {
	var v Values
	v.Set("b", 1)
	v.Set("a", 2)
	v.Set("c", 3)
	v.Set("b", 4)

	assert.Equal(t, []string{"b", "a", "c"}, v.Keys())
	got, ok := v.Get("b")
	require.True(t, ok)
	assert.Equal(t, 4, got)

	v.Delete("a")
	assert.Equal(t, []string{"b", "c"}, v.Keys())
	assert.False(t, v.Has("a"))
	assert.Equal(t, 2, v.Len())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"b":4,"c":3}`, string(data))

	var decoded Values
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"y":"two","x":[1,2]}`), &decoded))
	assert.Equal(t, []string{"z", "y", "x"}, decoded.Keys())
}

func TestValues_UnmarshalRejectsNonObject(t *testing.T) {
	var v Values
	err := json.Unmarshal([]byte(`[1,2]`), &v)
	require.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	assert.Equal(t, 0, v.Len())
}

func TestValues_CloneIsIndependent(t *testing.T) {
	env := New(TypeInfo, "A", 1)
	clone := env.Clone()
	clone.Set("B", 2)

	assert.False(t, env.Has("B"))
	assert.True(t, clone.Has("A"))
}

func TestEnvelope_Accessors(t *testing.T) {
	env := New(TypeCommandResponse,
		"Name", "pilot",
		"Count", float64(3),
		"CountStr", "7",
		"On", true,
		"OnStr", "false",
		"Ratio", 0.5,
		"Help", map[string]any{"ping": "sends a ping"},
		"Args", []any{"a", 1.0},
		"Strings", []string{"x"},
	)

	s, ok := env.GetString("Name")
	assert.True(t, ok)
	assert.Equal(t, "pilot", s)

	s, ok = env.GetString("Count")
	assert.True(t, ok)
	assert.Equal(t, "3", s)

	n, ok := env.GetInt("Count")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = env.GetInt("CountStr")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = env.GetInt("Name")
	assert.False(t, ok)

	b, ok := env.GetBool("On")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = env.GetBool("OnStr")
	assert.True(t, ok)
	assert.False(t, b)

	f, ok := env.GetFloat("Ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	m, ok := env.GetMap("Help")
	assert.True(t, ok)
	assert.Equal(t, "sends a ping", m["ping"])

	l, ok := env.GetList("Args")
	assert.True(t, ok)
	assert.Len(t, l, 2)

	l, ok = env.GetList("Strings")
	assert.True(t, ok)
	assert.Equal(t, []any{"x"}, l)

	_, ok = env.GetString("Missing")
	assert.False(t, ok)
}

func TestEnvelope_Decode(t *testing.T) {
	env := New(TypeCommandResponse, "Help", map[string]any{"ping": "sends a ping", "status": "reports"})

	var help map[string]string
	require.NoError(t, env.Decode("Help", &help))
	assert.Equal(t, "reports", help["status"])

	var wrong []int
	err := env.Decode("Help", &wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	err = env.Decode("Missing", &help)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 5, 5.0, true},
		{"int64 and float", int64(2), 2.0, true},
		{"different numbers", 1, 2.0, false},
		{"strings", "a", "a", true},
		{"string and number", "5", 5, false},
		{"bools", true, true, true},
		{"nil", nil, nil, true},
		{"lists", []any{"a"}, []string{"a"}, true},
		{"maps", map[string]any{"a": 1.0}, map[string]any{"a": 1}, true},
		{"string and map", "a", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestType_ParseAndJSON(t *testing.T) {
	for typ, name := range typeNames {
		parsed, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	parsed, err := ParseType("command_response")
	require.NoError(t, err)
	assert.Equal(t, TypeCommandResponse, parsed)

	_, err = ParseType("BOGUS")
	assert.True(t, errors.IsInvalid(err))

	var typ Type
	require.NoError(t, json.Unmarshal([]byte(`"PING"`), &typ))
	assert.Equal(t, TypePing, typ)
	require.NoError(t, json.Unmarshal([]byte(`4`), &typ))
	assert.Equal(t, TypePing, typ)
	assert.Error(t, json.Unmarshal([]byte(`999`), &typ))

	_, err = json.Marshal(TypeUnknown)
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", TypeUnknown.String())
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "svc@dom", BareID("svc@dom/res"))
	assert.Equal(t, "svc@dom", BareID("svc@dom"))
	assert.Equal(t, "svc@example.com", SanitizeID("svc", "example.com"))
	assert.Equal(t, "svc@other", SanitizeID(" svc@other ", "example.com"))
	assert.Equal(t, "svc", SanitizeID("svc", ""))
	assert.Equal(t, "dom", Domain("svc@dom/res"))
	assert.Equal(t, "", Domain("svc"))
	assert.Equal(t, "svc", Local("svc@dom/res"))
	assert.True(t, SameID("Svc@Dom/phone", "svc@dom"))
	assert.False(t, SameID("a@dom", "b@dom"))
}

func TestServiceEventOf(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   ServiceEvent
		wantOK bool
	}{
		{"float", 10003.0, ServiceEventStopping, true},
		{"int", 10002, ServiceEventDisconnecting, true},
		{"numeric string", "10004", ServiceEventStatusUpdate, true},
		{"name", "connected", ServiceEventConnected, true},
		{"unknown number", 42.0, ServiceEvent(42), false},
		{"unknown name", "exploded", ServiceEventNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := New(TypeNotification, FieldServiceEvent, tt.value)
			got, ok := ServiceEventOf(env)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ServiceEventOf(New(TypeNotification))
	assert.False(t, ok)

	assert.True(t, ServiceEventStopping.GoingAway())
	assert.True(t, ServiceEventDisconnecting.GoingAway())
	assert.False(t, ServiceEventStatusUpdate.GoingAway())
	assert.Equal(t, "Stopping", ServiceEventStopping.String())
}
