package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/chatsession/health"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for health bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records session metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithHealthMonitor reports the peer's liveness to monitor on every tick.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Session) {
		s.monitor = monitor
	}
}

// WithModules adds feature modules.
func WithModules(modules ...Module) Option {
	return func(s *Session) {
		s.modules = append(s.modules, modules...)
	}
}

// WithSinks mirrors published values into sinks.
func WithSinks(sinks ...Sink) Option {
	return func(s *Session) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// SubscribeResponseHook runs when the peer acknowledges a subscription.
type SubscribeResponseHook func(ctx context.Context, s *Session, env *message.Envelope) error

// WithSubscribeResponseHook replaces the default reaction to a
// SUBSCRIBE_RESPONSE, which is to request the peer's status.
func WithSubscribeResponseHook(hook SubscribeResponseHook) Option {
	return func(s *Session) {
		if hook != nil {
			s.onSubscribed = hook
		}
	}
}
