// Package main implements the chatsession command: a long-running client
// that keeps a session with a chat-connected service, mirrors what it
// publishes to the configured outputs and accepts operator commands on stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/chatsession/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chatsession"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	cliCfg, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting chatsession",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Transport.Kind,
		"peer", cfg.Session.Peer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out io.Writer
	if !cliCfg.NoConsole {
		out = stdout
	}
	a, err := buildApp(ctx, cfg, logger, out)
	if err != nil {
		return err
	}

	if err := a.start(ctx, logger); err != nil {
		a.close(logger)
		return fmt.Errorf("start session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.server != nil {
		g.Go(func() error {
			logger.Info("Metrics server started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			return a.server.Start()
		})
	}

	if !cliCfg.NoConsole {
		g.Go(func() error {
			defer cancel()
			return newConsole(a.session, a.alarms, stdout).run(gctx, stdin)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "timeout", cliCfg.ShutdownTimeout)
		return shutdown(a, logger, cliCfg.ShutdownTimeout)
	})

	return g.Wait()
}

// initializeCLI parses and validates flags
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil, true, nil
	}

	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	return cliCfg, false, nil
}

// initializeConfiguration loads the config file, applies environment and
// flag overrides and validates the result.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	switch {
	case cliCfg.MetricsPort == 0:
		cfg.Metrics.Enabled = false
	case cliCfg.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// shutdown closes the app, giving up after timeout.
func shutdown(a *app, logger *slog.Logger, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		a.close(logger)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
		return nil
	case <-time.After(timeout):
		if a.server != nil {
			_ = a.server.Stop()
		}
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}
