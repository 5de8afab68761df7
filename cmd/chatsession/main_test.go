package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/config"
	"github.com/c360/chatsession/feature/alarms"
)

const testConfig = `
transport:
  kind: websocket
  address: ws://localhost:5280/chat
  domain: example.com
  timeout: 5s
credentials:
  username: station
  password: secret
session:
  peer: alarms
  features:
    alarms:
      refresh_interval: 45
metrics:
  enabled: true
  port: 9191
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-c", "/etc/chatsession.yaml", "-debug", "-metrics-port", "0", "-shutdown-timeout", "3s"})
	require.NoError(t, err)

	assert.Equal(t, "/etc/chatsession.yaml", cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0, cfg.MetricsPort)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestValidateFlags(t *testing.T) {
	path := writeConfig(t, testConfig)

	valid := &CLIConfig{ConfigPath: path, MetricsPort: -1, ShutdownTimeout: time.Second}
	assert.NoError(t, validateFlags(valid))

	tests := []struct {
		name   string
		mutate func(c *CLIConfig)
	}{
		{"missing file", func(c *CLIConfig) { c.ConfigPath = filepath.Join(t.TempDir(), "nope.yaml") }},
		{"log level", func(c *CLIConfig) { c.LogLevel = "loud" }},
		{"log format", func(c *CLIConfig) { c.LogFormat = "xml" }},
		{"metrics port", func(c *CLIConfig) { c.MetricsPort = 70000 }},
		{"shutdown timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *valid
			tt.mutate(&c)
			assert.Error(t, validateFlags(&c))
		})
	}
}

func TestInitializeConfiguration(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := initializeConfiguration(&CLIConfig{ConfigPath: path, LogFormat: "text", MetricsPort: -1})
	require.NoError(t, err)
	assert.Equal(t, config.TransportWebSocket, cfg.Transport.Kind)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)

	cfg, err = initializeConfiguration(&CLIConfig{ConfigPath: path, MetricsPort: 0})
	require.NoError(t, err)
	assert.False(t, cfg.Metrics.Enabled)

	bad := writeConfig(t, "transport:\n  kind: carrier-pigeon\n")
	_, err = initializeConfiguration(&CLIConfig{ConfigPath: bad, MetricsPort: -1})
	assert.Error(t, err)
}

func TestBuildModules(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := initializeConfiguration(&CLIConfig{ConfigPath: path, MetricsPort: -1})
	require.NoError(t, err)

	modules := buildModules(cfg.Session, setupLogger("error", "json", &bytes.Buffer{}))
	require.Len(t, modules, 1)
	_, ok := modules[0].(*alarms.Module)
	assert.True(t, ok)

	cfg.Session.Features = nil
	assert.Empty(t, buildModules(cfg.Session, setupLogger("error", "json", &bytes.Buffer{})))
}

func TestReconnectBackoff(t *testing.T) {
	backoff := reconnectBackoff(config.ReconnectConfig{
		InitialDelay: config.Duration(2 * time.Second),
		MaxDelay:     config.Duration(time.Minute),
	})
	assert.Equal(t, 2*time.Second, backoff.InitialDelay)
	assert.Equal(t, time.Minute, backoff.MaxDelay)
	assert.Equal(t, 2.0, backoff.Multiplier)
	assert.False(t, backoff.AddJitter)
	assert.Zero(t, backoff.MaxAttempts)
}

func TestBuildAdapter(t *testing.T) {
	logger := setupLogger("error", "json", &bytes.Buffer{})
	cfg := config.Default().Transport

	adapter, err := buildAdapter(cfg, "station", logger)
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	cfg.Kind = config.TransportWebSocket
	adapter, err = buildAdapter(cfg, "station", logger)
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	cfg.Kind = "smoke"
	_, err = buildAdapter(cfg, "station", logger)
	assert.Error(t, err)
}

func TestRun_VersionAndValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, nil, &out))
	assert.Contains(t, out.String(), Version)

	path := writeConfig(t, testConfig)
	out.Reset()
	require.NoError(t, run([]string{"-config", path, "-print-config"}, nil, &out))
	assert.Contains(t, out.String(), `"peer": "alarms"`)
	assert.NotContains(t, out.String(), "secret")
}
