package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/chatsession/errors"
)

// DefaultEnvPrefix prefixes the environment overrides, e.g. CHATSESSION_SESSION_PEER.
const DefaultEnvPrefix = "CHATSESSION"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, merges every layer, applies environment
// overrides and validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.mergeFile(cfg, path); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// mergeFile decodes a layer over cfg. Fields absent from the file keep
// their current value.
func (l *Loader) mergeFile(cfg *Config, path string) error {
	data, err := readLayer(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := checkNesting(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LOG_LEVEL":          &cfg.Log.Level,
		"LOG_FORMAT":         &cfg.Log.Format,
		"TRANSPORT_KIND":     &cfg.Transport.Kind,
		"TRANSPORT_ADDRESS":  &cfg.Transport.Address,
		"TRANSPORT_DOMAIN":   &cfg.Transport.Domain,
		"TRANSPORT_CODEC":    &cfg.Transport.Codec,
		"USERNAME":           &cfg.Credentials.Username,
		"PASSWORD":           &cfg.Credentials.Password,
		"SESSION_PEER":       &cfg.Session.Peer,
		"REDIS_ADDR":         &cfg.Outputs.Redis.Addr,
		"REDIS_PASSWORD":     &cfg.Outputs.Redis.Password,
		"WEBHOOK_URL":        &cfg.Outputs.Webhook.URL,
		"OUTPUT_FILE_PATH":   &cfg.Outputs.File.Path,
		"TRANSPORT_TLS_CERT": &cfg.Transport.TLS.CertFile,
		"TRANSPORT_TLS_KEY":  &cfg.Transport.TLS.KeyFile,
	}
	for suffix, field := range strs {
		if val, ok := l.env(suffix); ok {
			if err := checkEnvValue(l.envPrefix+"_"+suffix, val); err != nil {
				return err
			}
			*field = val
		}
	}

	durations := map[string]*Duration{
		"SESSION_TICK_INTERVAL":  &cfg.Session.TickInterval,
		"SESSION_PING_INTERVAL":  &cfg.Session.PingInterval,
		"SESSION_LATENCY_MARGIN": &cfg.Session.LatencyMargin,
		"TRANSPORT_TIMEOUT":      &cfg.Transport.Timeout,
	}
	for suffix, field := range durations {
		if val, ok := l.env(suffix); ok {
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
			}
			*field = Duration(d)
		}
	}

	if val, ok := l.env("METRICS_PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}
	bools := map[string]*bool{
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
		"REDIS_ENABLED":   &cfg.Outputs.Redis.Enabled,
		"FILE_ENABLED":    &cfg.Outputs.File.Enabled,
		"WEBHOOK_ENABLED": &cfg.Outputs.Webhook.Enabled,
		"TRANSPORT_TLS":   &cfg.Transport.TLS.Enabled,
		"TLS_INSECURE":    &cfg.Transport.TLS.InsecureSkipVerify,
	}
	for suffix, field := range bools {
		if val, ok := l.env(suffix); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
			}
			*field = b
		}
	}
	return nil
}

func (l *Loader) env(suffix string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + suffix)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
