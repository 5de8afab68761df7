package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/tlsutil"
)

// Transport kinds
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Duration is a time.Duration written as a string ("2s", "1m30s", "14d") in
// config files. Plain numbers are read as nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := parseDurationWithDays(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(int64(x))
	case int:
		*d = Duration(x)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Config represents the complete application configuration
type Config struct {
	Log         LogConfig         `json:"log"         yaml:"log"`
	Transport   TransportConfig   `json:"transport"   yaml:"transport"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
	Session     SessionConfig     `json:"session"     yaml:"session"`
	Metrics     MetricsConfig     `json:"metrics"     yaml:"metrics"`
	Outputs     OutputsConfig     `json:"outputs"     yaml:"outputs"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level"  yaml:"level"`  // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TransportConfig selects and tunes the chat transport
type TransportConfig struct {
	Kind          string               `json:"kind"           yaml:"kind"` // nats, websocket
	Address       string               `json:"address"        yaml:"address"`
	Domain        string               `json:"domain"         yaml:"domain"`
	Codec         string               `json:"codec"          yaml:"codec"` // json, proto
	Timeout       Duration             `json:"timeout"        yaml:"timeout"`
	MaxReconnects int                  `json:"max_reconnects" yaml:"max_reconnects"` // -1 retries forever
	Reconnect     ReconnectConfig      `json:"reconnect"      yaml:"reconnect"`
	TLS           tlsutil.ClientConfig `json:"tls"            yaml:"tls"`
}

// ReconnectConfig is the backoff between reconnect attempts
type ReconnectConfig struct {
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"     yaml:"max_delay"`
	Multiplier   float64  `json:"multiplier"    yaml:"multiplier"`
	Jitter       bool     `json:"jitter"        yaml:"jitter"`
}

// CredentialsConfig holds the login of this client
type CredentialsConfig struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// SessionConfig configures the session with the remote service
type SessionConfig struct {
	Peer           string   `json:"peer"            yaml:"peer"`
	TickInterval   Duration `json:"tick_interval"   yaml:"tick_interval"`
	PingInterval   Duration `json:"ping_interval"   yaml:"ping_interval"`
	LatencyMargin  Duration `json:"latency_margin"  yaml:"latency_margin"`
	ResponseFactor float64  `json:"response_factor" yaml:"response_factor"`

	// Features enables feature modules by name, each with its own options.
	Features map[string]map[string]any `json:"features,omitempty" yaml:"features,omitempty"`
}

// MetricsConfig configures the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// OutputsConfig configures where published values are mirrored
type OutputsConfig struct {
	Redis   RedisConfig   `json:"redis"   yaml:"redis"`
	File    FileConfig    `json:"file"    yaml:"file"`
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
}

// RedisConfig configures the Redis sink
type RedisConfig struct {
	Enabled   bool     `json:"enabled"    yaml:"enabled"`
	Addr      string   `json:"addr"       yaml:"addr"`
	Password  string   `json:"password"   yaml:"password"`
	DB        int      `json:"db"         yaml:"db"`
	KeyPrefix string   `json:"key_prefix" yaml:"key_prefix"`
	Channel   string   `json:"channel"    yaml:"channel"`
	TTL       Duration `json:"ttl"        yaml:"ttl"`
}

// FileConfig configures the file sink
type FileConfig struct {
	Enabled       bool     `json:"enabled"        yaml:"enabled"`
	Path          string   `json:"path"           yaml:"path"`
	Format        string   `json:"format"         yaml:"format"`
	Append        bool     `json:"append"         yaml:"append"`
	BufferSize    int      `json:"buffer_size"    yaml:"buffer_size"`
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"`
}

// WebhookConfig configures the webhook sink
type WebhookConfig struct {
	Enabled    bool                 `json:"enabled"     yaml:"enabled"`
	URL        string               `json:"url"         yaml:"url"`
	Headers    map[string]string    `json:"headers"     yaml:"headers"`
	Timeout    Duration             `json:"timeout"     yaml:"timeout"`
	RetryCount int                  `json:"retry_count" yaml:"retry_count"`
	RateLimit  float64              `json:"rate_limit"  yaml:"rate_limit"`
	RateBurst  int                  `json:"rate_burst"  yaml:"rate_burst"`
	TLS        tlsutil.ClientConfig `json:"tls"         yaml:"tls"`
}

// Default returns the configuration used when no file sets a value
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Transport: TransportConfig{
			Kind:          TransportNATS,
			Address:       "nats://localhost:4222",
			Codec:         "json",
			Timeout:       Duration(30 * time.Second),
			MaxReconnects: -1,
			Reconnect: ReconnectConfig{
				InitialDelay: Duration(time.Second),
				MaxDelay:     Duration(30 * time.Second),
				Multiplier:   2.0,
				Jitter:       true,
			},
		},
		Session: SessionConfig{
			TickInterval:   Duration(2 * time.Second),
			PingInterval:   Duration(10 * time.Second),
			LatencyMargin:  Duration(2 * time.Second),
			ResponseFactor: 1.5,
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Outputs: OutputsConfig{
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "chatsession:",
				Channel:   "chatsession.published",
				TTL:       Duration(24 * time.Hour),
			},
			File: FileConfig{
				Path:          "/tmp/chatsession/published.jsonl",
				Format:        "jsonl",
				Append:        true,
				BufferSize:    100,
				FlushInterval: Duration(time.Second),
			},
			Webhook: WebhookConfig{
				Timeout:    Duration(30 * time.Second),
				RetryCount: 3,
			},
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format must be one of: json, text")
	}

	switch c.Transport.Kind {
	case TransportNATS, TransportWebSocket:
	default:
		return invalid(fmt.Sprintf("transport.kind %q must be one of: nats, websocket", c.Transport.Kind))
	}
	if c.Transport.Address == "" {
		return missing("transport.address is required")
	}
	if c.Transport.Domain == "" {
		return missing("transport.domain is required")
	}
	switch c.Transport.Codec {
	case "json", "proto":
	default:
		return invalid("transport.codec must be one of: json, proto")
	}
	if c.Transport.Timeout <= 0 {
		return invalid("transport.timeout must be positive")
	}
	if c.Transport.Reconnect.MaxDelay < c.Transport.Reconnect.InitialDelay {
		return invalid("transport.reconnect.max_delay must be >= initial_delay")
	}
	if err := c.Transport.TLS.Validate(); err != nil {
		return err
	}

	if c.Credentials.Username == "" {
		return missing("credentials.username is required")
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port must be between 1 and 65535")
	}

	if c.Outputs.Redis.Enabled && c.Outputs.Redis.Addr == "" {
		return missing("outputs.redis.addr is required")
	}
	if c.Outputs.File.Enabled && c.Outputs.File.Path == "" {
		return missing("outputs.file.path is required")
	}
	if c.Outputs.Webhook.Enabled && c.Outputs.Webhook.URL == "" {
		return missing("outputs.webhook.url is required")
	}
	return nil
}

// Validate enforces the watchdog timing rule: the ping interval must leave
// room for a tick and the latency margin.
func (s SessionConfig) Validate() error {
	if strings.TrimSpace(s.Peer) == "" {
		return missing("session.peer is required")
	}
	if s.TickInterval <= 0 || s.PingInterval <= 0 || s.LatencyMargin < 0 {
		return invalid("session intervals must be positive")
	}
	if s.PingInterval < s.TickInterval+s.LatencyMargin {
		return invalid(fmt.Sprintf("session.ping_interval %v must be >= tick_interval %v + latency_margin %v",
			s.PingInterval, s.TickInterval, s.LatencyMargin))
	}
	if s.ResponseFactor < 1 {
		return invalid("session.response_factor must be >= 1")
	}
	return nil
}

// Feature returns the options of an enabled feature.
func (s SessionConfig) Feature(name string) (map[string]any, bool) {
	opts, ok := s.Features[name]
	if ok && opts == nil {
		opts = map[string]any{}
	}
	return opts, ok
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.Credentials.Password != "" {
		redacted.Credentials.Password = "***"
	}
	if redacted.Outputs.Redis.Password != "" {
		redacted.Outputs.Redis.Password = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check config")
}

func missing(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, msg), "Config", "Validate", "check config")
}
