package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	now := Now()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, now, before)
	assert.LessOrEqual(t, now, after)
}

func TestToUnixMsRoundTrip(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	ms := ToUnixMs(ts)
	assert.Equal(t, int64(1709296200000), ms)
	assert.True(t, ts.Equal(FromUnixMs(ms)))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(0, nil))
	assert.Equal(t, "2024-03-01 12:30:00 +0000", Format(1709296200000, nil))
}

func TestParse(t *testing.T) {
	want := int64(1709296200000)

	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"nil", nil, 0},
		{"milliseconds int64", want, want},
		{"seconds int", 1709296200, want},
		{"milliseconds float", float64(want), want},
		{"seconds float", float64(1709296200), want},
		{"json number", json.Number("1709296200000"), want},
		{"numeric string", "1709296200000", want},
		{"rfc3339", "2024-03-01T12:30:00Z", want},
		{"display layout", "2024-03-01 12:30:00 +0000", want},
		{"time value", time.UnixMilli(want), want},
		{"garbage", "not a time", 0},
		{"negative", -5, 0},
		{"unsupported type", []string{"x"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

func TestParseTime(t *testing.T) {
	assert.True(t, ParseTime(nil).IsZero())
	assert.Equal(t, int64(1709296200000), ParseTime("2024-03-01T12:30:00Z").UnixMilli())
}
