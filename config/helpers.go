package config

import "time"

// Accessors for the free-form feature options in SessionConfig.Features.
// Each returns def when the key is absent or holds a value of another kind.

func option[T any](opts map[string]any, key string, def T) T {
	if v, ok := opts[key].(T); ok {
		return v
	}
	return def
}

// GetString returns opts[key] when it is a string.
func GetString(opts map[string]any, key, def string) string {
	return option(opts, key, def)
}

// GetBool returns opts[key] when it is a bool.
func GetBool(opts map[string]any, key string, def bool) bool {
	return option(opts, key, def)
}

// GetInt accepts the integer kinds YAML produces and the float64 JSON does.
func GetInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// GetDuration accepts a duration string such as "30s" or "2d", or a bare
// number of seconds.
func GetDuration(opts map[string]any, key string, def time.Duration) time.Duration {
	switch v := opts[key].(type) {
	case string:
		if d, err := parseDurationWithDays(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}
