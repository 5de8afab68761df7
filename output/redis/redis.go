package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/retry"
	"github.com/c360/chatsession/session"
)

// Config holds configuration for the Redis sink
type Config struct {
	Addr      string        `json:"addr"       yaml:"addr"`
	Password  string        `json:"password"   yaml:"password"`
	DB        int           `json:"db"         yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	Channel   string        `json:"channel"    yaml:"channel"`
	TTL       time.Duration `json:"ttl"        yaml:"ttl"`
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "chatsession:",
		Channel:   "chatsession.published",
		TTL:       24 * time.Hour,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	}
	if c.DB < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "db cannot be negative")
	}
	if c.TTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ttl cannot be negative")
	}
	return nil
}

// Client is the part of the go-redis client the sink uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetry sets the retry policy for each write.
func WithRetry(cfg retry.Config) Option {
	return func(s *Sink) { s.retry = cfg }
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// Sink mirrors session publications into Redis: the latest value of each key
// is stored under KeyPrefix+key and every publication is announced on Channel.
type Sink struct {
	client Client
	cfg    Config
	logger *slog.Logger
	retry  retry.Config
	now    func() time.Time

	written int64
	failed  int64
}

var _ session.Sink = (*Sink)(nil)

// Dial connects to Redis and returns a Sink using the connection.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.WrapTransient(err, "RedisSink", "Dial", fmt.Sprintf("ping %s", cfg.Addr))
	}
	return New(rdb, cfg, opts...)
}

// New returns a Sink writing through client.
func New(client Client, cfg Config, opts ...Option) (*Sink, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "RedisSink", "New", "client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sink{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
		retry:  retry.DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "redis-sink")
	return s, nil
}

// Publish stores value and announces it.
func (s *Sink) Publish(ctx context.Context, key string, value any) error {
	record := session.NewRecord(key, value, s.now())
	data, err := json.Marshal(record)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return errors.WrapInvalid(err, "RedisSink", "Publish", "marshal record")
	}
	stored, err := json.Marshal(record.Value)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return errors.WrapInvalid(err, "RedisSink", "Publish", "marshal value")
	}

	err = retry.Do(ctx, s.retry, func() error {
		if err := s.client.Set(ctx, s.cfg.KeyPrefix+key, stored, s.cfg.TTL).Err(); err != nil {
			return err
		}
		if s.cfg.Channel == "" {
			return nil
		}
		return s.client.Publish(ctx, s.cfg.Channel, data).Err()
	})
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return errors.WrapTransient(err, "RedisSink", "Publish", fmt.Sprintf("write %s", key))
	}

	atomic.AddInt64(&s.written, 1)
	s.logger.Debug("Published to redis", "key", key, "bytes", len(data))
	return nil
}

// Written returns how many publications were stored.
func (s *Sink) Written() int64 { return atomic.LoadInt64(&s.written) }

// Failed returns how many publications could not be stored.
func (s *Sink) Failed() int64 { return atomic.LoadInt64(&s.failed) }

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
