// Package timestamp provides Unix-millisecond timestamp helpers.
//
// Envelope tags, health bookkeeping and peer-reported times all use int64
// milliseconds since the Unix epoch. A value of 0 means "not set".
package timestamp

import (
	"encoding/json"
	"strconv"
	"time"
)

// DisplayLayout is the layout used for human-readable peer times.
const DisplayLayout = "2006-01-02 15:04:05 -0700"

// layouts accepted by Parse for string input, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DisplayLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds, 0 for the zero time.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time, zero time for 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders ms with DisplayLayout in the given location.
// Returns an empty string if ms is 0.
func Format(ms int64, loc *time.Location) string {
	if ms == 0 {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(DisplayLayout)
}

// Parse converts a decoded field value to Unix milliseconds.
// Numbers above 1e12 are taken as milliseconds, smaller ones as seconds.
// Strings may be numeric or use one of the accepted layouts.
// Returns 0 when the value cannot be interpreted.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case int64:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case float64:
		return fromNumber(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return fromNumber(f)
	case string:
		return parseString(v)
	case time.Time:
		return ToUnixMs(v)
	default:
		return 0
	}
}

// ParseTime is Parse returning a time.Time.
func ParseTime(input any) time.Time {
	return FromUnixMs(Parse(input))
}

func fromNumber(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v > 1e12 {
		return int64(v)
	}
	return int64(v * 1000)
}

func parseString(s string) int64 {
	if s == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return ToUnixMs(t)
		}
	}
	return 0
}
