package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
	PrintConfig     bool
	NoConsole       bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("CHATSESSION_CONFIG", "chatsession.yaml"),
		"Path to configuration file, JSON or YAML (env: CHATSESSION_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("CHATSESSION_CONFIG", "chatsession.yaml"),
		"Path to configuration file (env: CHATSESSION_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", os.Getenv("CHATSESSION_LOG_LEVEL"),
		"Log level: debug, info, warn, error; overrides the config file (env: CHATSESSION_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", os.Getenv("CHATSESSION_LOG_FORMAT"),
		"Log format: json, text; overrides the config file (env: CHATSESSION_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("CHATSESSION_DEBUG", false),
		"Enable debug logging (env: CHATSESSION_DEBUG)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("CHATSESSION_METRICS_PORT", -1),
		"Metrics and health port, 0 to disable, -1 to use the config file (env: CHATSESSION_METRICS_PORT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CHATSESSION_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: CHATSESSION_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&cfg.NoConsole, "no-console", getEnvBool("CHATSESSION_NO_CONSOLE", false),
		"Do not read commands from stdin (env: CHATSESSION_NO_CONSOLE)")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < -1 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - session client for chat-connected services

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Console commands (stdin):
  ping | status | subscribe | help | version | about
  alarms | alert | test-alarm <id> [secs] | silence [secs] | unsilence
  quit
  anything else is sent to the peer as a command

Examples:
  %s --config=/etc/chatsession/alarms.yaml
  %s --log-level=debug --log-format=text
  CHATSESSION_PASSWORD=secret %s --validate

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
