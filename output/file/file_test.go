package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/errors"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no path", mutate: func(c *Config) { c.Path = "" }, wantErr: true},
		{name: "raw format", mutate: func(c *Config) { c.Format = "raw" }, wantErr: true},
		{name: "negative buffer", mutate: func(c *Config) { c.BufferSize = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSink_FlushesWhenBufferFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "published.jsonl")
	sink, err := Open(Config{Path: path, Format: "jsonl", BufferSize: 2, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, "version", "1.0"))
	assert.Equal(t, int64(0), sink.Written())

	require.NoError(t, sink.Publish(ctx, "about", "Alarms"))
	assert.Equal(t, int64(2), sink.Written())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "version", records[0]["key"])
	assert.Equal(t, "Alarms", records[1]["value"])
}

func TestSink_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "published.jsonl")
	sink, err := Open(Config{Path: path, Format: "jsonl", BufferSize: 10, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), "error", os.ErrDeadlineExceeded))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, os.ErrDeadlineExceeded.Error(), records[0]["value"])
}

func TestSink_PeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "published.jsonl")
	sink, err := Open(Config{Path: path, Format: "jsonl", BufferSize: 10, FlushInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Publish(context.Background(), "status", map[string]any{"StatusCode": 0}))
	assert.Eventually(t, func() bool { return sink.Written() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSink_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "published.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"key\":\"old\"}\n"), 0644))

	sink, err := Open(Config{Path: path, Format: "jsonl", BufferSize: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), "new", 1))
	require.NoError(t, sink.Close())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0]["key"])
}
