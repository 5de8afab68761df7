package natstransport

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/chatsession/pkg/retry"
)

// Option configures an Adapter.
type Option func(*Adapter) error

// WithMaxReconnects sets how many times nats.go retries a dropped link.
// -1 retries forever.
func WithMaxReconnects(n int) Option {
	return func(a *Adapter) error {
		a.maxReconnects = n
		return nil
	}
}

// WithReconnectBackoff sets the delays between reconnect attempts.
func WithReconnectBackoff(cfg retry.Config) Option {
	return func(a *Adapter) error {
		if _, err := retry.NewBackoff(cfg); err != nil {
			return err
		}
		a.reconnect = cfg
		return nil
	}
}

// WithTimeout sets the dial and login timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		a.timeout = d
		return nil
	}
}

// WithClientName sets the connection name shown in NATS monitoring.
func WithClientName(name string) Option {
	return func(a *Adapter) error {
		a.clientName = name
		return nil
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithTLS secures the connection with cfg. A nil cfg leaves it plain.
func WithTLS(cfg *tls.Config) Option {
	return func(a *Adapter) error {
		a.tlsConfig = cfg
		return nil
	}
}
