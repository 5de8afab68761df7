package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/chatsession/errors"
)

// Watchdog defaults.
const (
	DefaultTickInterval   = 2 * time.Second
	DefaultPingInterval   = 10 * time.Second
	DefaultLatencyMargin  = 2 * time.Second
	DefaultResponseFactor = 1.5
)

// Config describes the peer a Session talks to and how it watches it.
type Config struct {
	// Peer is the identity of the remote service. A bare local part is
	// qualified with the connection's domain.
	Peer string

	Username string
	Password string

	// TickInterval is the watchdog period.
	TickInterval time.Duration

	// PingInterval is how long the conversation may stay quiet before a ping
	// is sent. It must be at least TickInterval + LatencyMargin.
	PingInterval time.Duration

	LatencyMargin time.Duration

	// ResponseFactor scales PingInterval into the window within which the
	// peer must have sent something to count as responding.
	ResponseFactor float64
}

// DefaultConfig returns a Config with the default watchdog timing.
func DefaultConfig() Config {
	return Config{
		TickInterval:   DefaultTickInterval,
		PingInterval:   DefaultPingInterval,
		LatencyMargin:  DefaultLatencyMargin,
		ResponseFactor: DefaultResponseFactor,
	}
}

// withDefaults fills zero timing fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.LatencyMargin == 0 {
		c.LatencyMargin = d.LatencyMargin
	}
	if c.ResponseFactor == 0 {
		c.ResponseFactor = d.ResponseFactor
	}
	return c
}

// Validate checks the peer and the watchdog timing.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Peer) == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: peer is required", errors.ErrMissingConfig),
			"Config", "Validate", "check peer")
	}
	if c.TickInterval <= 0 || c.PingInterval <= 0 || c.LatencyMargin < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: intervals must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check intervals")
	}
	if c.PingInterval < c.TickInterval+c.LatencyMargin {
		return errors.WrapInvalid(
			fmt.Errorf("%w: ping interval %s must be at least tick interval %s plus latency margin %s",
				errors.ErrInvalidConfig, c.PingInterval, c.TickInterval, c.LatencyMargin),
			"Config", "Validate", "check ping interval")
	}
	if c.ResponseFactor < 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: response factor %.2f is below 1", errors.ErrInvalidConfig, c.ResponseFactor),
			"Config", "Validate", "check response factor")
	}
	return nil
}

// ResponseWindow is the longest silence after which the peer still counts
// as responding.
func (c Config) ResponseWindow() time.Duration {
	return time.Duration(float64(c.PingInterval) * c.ResponseFactor)
}
