package connection

import (
	"log/slog"
	"time"

	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetricsRegistry records connection metrics in registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
		if registry != nil {
			m.metrics = registry.CoreMetrics()
		}
	}
}

// WithCodec sets the envelope codec. JSON is the default.
func WithCodec(codec message.Codec) Option {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithTimeout bounds a single Connect or Login attempt.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock replaces time.Now for envelope tags.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
