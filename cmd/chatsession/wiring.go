package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/c360/chatsession/config"
	"github.com/c360/chatsession/connection"
	"github.com/c360/chatsession/feature/alarms"
	"github.com/c360/chatsession/health"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
	"github.com/c360/chatsession/output/file"
	"github.com/c360/chatsession/output/httppost"
	"github.com/c360/chatsession/output/redis"
	"github.com/c360/chatsession/pkg/retry"
	"github.com/c360/chatsession/pkg/tlsutil"
	"github.com/c360/chatsession/session"
	"github.com/c360/chatsession/transport"
	"github.com/c360/chatsession/transport/natstransport"
	"github.com/c360/chatsession/transport/wstransport"
)

// app is everything run() starts and must shut down.
type app struct {
	cfg      *config.Config
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	manager  *connection.Manager
	session  *session.Session
	alarms   *alarms.Module
	server   *metric.Server
	closers  []io.Closer
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}

	adapter, err := buildAdapter(cfg.Transport, cfg.Credentials.Username, logger)
	if err != nil {
		return nil, err
	}

	codec, err := message.CodecByName(cfg.Transport.Codec)
	if err != nil {
		return nil, err
	}

	a.manager, err = connection.NewManager(adapter,
		connection.WithLogger(logger),
		connection.WithMetricsRegistry(a.registry),
		connection.WithCodec(codec),
		connection.WithTimeout(cfg.Transport.Timeout.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	modules := buildModules(cfg.Session, logger)
	for _, m := range modules {
		if am, ok := m.(*alarms.Module); ok {
			a.alarms = am
		}
	}

	sinks, err := a.buildSinks(ctx, cfg.Outputs, logger)
	if err != nil {
		a.close(logger)
		return nil, err
	}
	if out != nil {
		sinks = append(sinks, consoleSink(out))
	}

	a.session, err = session.New(a.manager, sessionConfig(cfg),
		session.WithLogger(logger),
		session.WithMetrics(a.registry.CoreMetrics()),
		session.WithHealthMonitor(a.monitor),
		session.WithModules(modules...),
		session.WithSinks(sinks...),
	)
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("create session: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, a.monitor)
	}
	return a, nil
}

func buildAdapter(cfg config.TransportConfig, clientName string, logger *slog.Logger) (transport.Adapter, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	backoff := reconnectBackoff(cfg.Reconnect)

	switch cfg.Kind {
	case config.TransportWebSocket:
		opts := []wstransport.Option{
			wstransport.WithLogger(logger),
			wstransport.WithReconnectBackoff(backoff),
			wstransport.WithLoginTimeout(cfg.Timeout.Std()),
		}
		if tlsConfig != nil {
			opts = append(opts, wstransport.WithTLS(tlsConfig))
		}
		adapter, err := wstransport.New(opts...)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case config.TransportNATS:
		opts := []natstransport.Option{
			natstransport.WithLogger(logger),
			natstransport.WithMaxReconnects(cfg.MaxReconnects),
			natstransport.WithReconnectBackoff(backoff),
			natstransport.WithTimeout(cfg.Timeout.Std()),
			natstransport.WithClientName(appName + "-" + clientName),
		}
		if tlsConfig != nil {
			opts = append(opts, natstransport.WithTLS(tlsConfig))
		}
		adapter, err := natstransport.New(opts...)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func reconnectBackoff(cfg config.ReconnectConfig) retry.Config {
	backoff := retry.Reconnect()
	if cfg.InitialDelay > 0 {
		backoff.InitialDelay = cfg.InitialDelay.Std()
	}
	if cfg.MaxDelay > 0 {
		backoff.MaxDelay = cfg.MaxDelay.Std()
	}
	if cfg.Multiplier > 0 {
		backoff.Multiplier = cfg.Multiplier
	}
	backoff.AddJitter = cfg.Jitter
	return backoff
}

func buildModules(cfg config.SessionConfig, logger *slog.Logger) []session.Module {
	var modules []session.Module
	if opts, ok := cfg.Feature("alarms"); ok {
		modules = append(modules, alarms.New(
			alarms.WithLogger(logger),
			alarms.WithRefreshInterval(config.GetDuration(opts, "refresh_interval", alarms.DefaultRefreshInterval)),
		))
	}
	return modules
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Peer:           cfg.Session.Peer,
		Username:       cfg.Credentials.Username,
		Password:       cfg.Credentials.Password,
		TickInterval:   cfg.Session.TickInterval.Std(),
		PingInterval:   cfg.Session.PingInterval.Std(),
		LatencyMargin:  cfg.Session.LatencyMargin.Std(),
		ResponseFactor: cfg.Session.ResponseFactor,
	}
}

func (a *app) buildSinks(ctx context.Context, cfg config.OutputsConfig, logger *slog.Logger) ([]session.Sink, error) {
	var sinks []session.Sink

	if cfg.Redis.Enabled {
		sink, err := redis.Dial(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Channel:   cfg.Redis.Channel,
			TTL:       cfg.Redis.TTL.Std(),
		}, redis.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("redis output: %w", err)
		}
		a.closers = append(a.closers, sink)
		sinks = append(sinks, sink)
	}

	if cfg.File.Enabled {
		sink, err := file.Open(file.Config{
			Path:          cfg.File.Path,
			Format:        cfg.File.Format,
			Append:        cfg.File.Append,
			BufferSize:    cfg.File.BufferSize,
			FlushInterval: cfg.File.FlushInterval.Std(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("file output: %w", err)
		}
		a.closers = append(a.closers, sink)
		sinks = append(sinks, sink)
	}

	if cfg.Webhook.Enabled {
		webhook := httppost.DefaultConfig()
		webhook.URL = cfg.Webhook.URL
		webhook.Headers = cfg.Webhook.Headers
		webhook.Timeout = cfg.Webhook.Timeout.Std()
		webhook.RetryCount = cfg.Webhook.RetryCount
		webhook.RateLimit = cfg.Webhook.RateLimit
		webhook.RateBurst = cfg.Webhook.RateBurst
		webhook.TLS = cfg.Webhook.TLS
		sink, err := httppost.New(webhook, logger)
		if err != nil {
			return nil, fmt.Errorf("webhook output: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// start brings the session up.
func (a *app) start(ctx context.Context, logger *slog.Logger) error {
	a.session.OnError(func(err error) {
		logger.Warn("Session error", "error", err)
	})
	return a.session.Start(ctx, a.cfg.Transport.Address, a.cfg.Transport.Domain)
}

// close shuts everything down in reverse order of construction.
func (a *app) close(logger *slog.Logger) {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			logger.Warn("Session close failed", "error", err)
		}
	}
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			logger.Warn("Connection close failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warn("Output close failed", "error", err)
		}
	}
	a.closers = nil
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}
}
