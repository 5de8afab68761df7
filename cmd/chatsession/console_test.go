package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/connection"
	"github.com/c360/chatsession/feature/alarms"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/session"
	"github.com/c360/chatsession/transport/transporttest"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

// syncBuffer is a bytes.Buffer safe for the console and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type consoleFixture struct {
	adapter *transporttest.Adapter
	console *console
	out     *syncBuffer
}

func newConsoleFixture(t *testing.T) *consoleFixture {
	t.Helper()
	adapter := transporttest.New()
	mgr, err := connection.NewManager(adapter)
	require.NoError(t, err)

	mod := alarms.New()
	s, err := session.New(mgr, session.Config{
		Peer:          "alarms",
		Username:      "station",
		Password:      "secret",
		TickInterval:  time.Minute,
		PingInterval:  5 * time.Minute,
		LatencyMargin: time.Second,
	}, session.WithModules(mod))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = mgr.Close()
	})

	f := &consoleFixture{adapter: adapter, out: &syncBuffer{}}
	f.console = newConsole(s, mod, f.out)

	require.NoError(t, s.Start(context.Background(), "localhost:4222", "example.com"))
	require.Eventually(t, func() bool { return len(f.commands(t, alarms.CommandListAlarms)) == 1 }, waitFor, poll)
	return f
}

func (f *consoleFixture) sent(t *testing.T, typ message.Type) []*message.Envelope {
	t.Helper()
	envs, err := f.adapter.SentEnvelopes(message.JSONCodec{})
	require.NoError(t, err)
	var out []*message.Envelope
	for _, env := range envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (f *consoleFixture) commands(t *testing.T, name string) []*message.Envelope {
	t.Helper()
	var out []*message.Envelope
	for _, env := range f.sent(t, message.TypeCommand) {
		if cmd, err := message.CommandOf(env); err == nil && cmd == name {
			out = append(out, env)
		}
	}
	return out
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line     string
		wantVerb string
		wantArgs []string
	}{
		{line: "", wantVerb: ""},
		{line: "   ", wantVerb: ""},
		{line: "PING", wantVerb: "ping", wantArgs: []string{}},
		{line: "  test-alarm A1  30 ", wantVerb: "test-alarm", wantArgs: []string{"A1", "30"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			verb, args := parseLine(tt.line)
			assert.Equal(t, tt.wantVerb, verb)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestConsole_BuiltinCommands(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	quit, err := f.console.execute(ctx, "ping")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Len(t, f.sent(t, message.TypePing), 1)

	before := len(f.sent(t, message.TypeStatusRequest))
	_, err = f.console.execute(ctx, "status")
	require.NoError(t, err)
	assert.Len(t, f.sent(t, message.TypeStatusRequest), before+1)

	_, err = f.console.execute(ctx, "health")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "ready=false responding=false")
	assert.Contains(t, f.out.String(), "last_received=never")

	quit, err = f.console.execute(ctx, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestConsole_ForwardsUnknownCommands(t *testing.T) {
	f := newConsoleFixture(t)

	_, err := f.console.execute(context.Background(), "Reboot NOW")
	require.NoError(t, err)

	sent := f.commands(t, "reboot")
	require.Len(t, sent, 1)
	assert.Equal(t, []any{"now"}, message.ArgumentsOf(sent[0]))
}

func TestConsole_AlarmCommands(t *testing.T) {
	f := newConsoleFixture(t)
	ctx := context.Background()

	_, err := f.console.execute(ctx, "silence 30")
	require.NoError(t, err)
	sent := f.commands(t, alarms.CommandSilence)
	require.Len(t, sent, 1)
	assert.Equal(t, []any{float64(30)}, message.ArgumentsOf(sent[0]))

	_, err = f.console.execute(ctx, "test-alarm")
	assert.Error(t, err)
	assert.Empty(t, f.commands(t, alarms.CommandTestAlarm))

	_, err = f.console.execute(ctx, "test-buzzer soon")
	assert.Error(t, err)

	_, err = f.console.execute(ctx, "alarms refresh")
	require.NoError(t, err)
	assert.Len(t, f.commands(t, alarms.CommandListAlarms), 2)

	_, err = f.console.execute(ctx, "alert")
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "no alarm")
}

func TestConsole_RunStopsOnQuit(t *testing.T) {
	f := newConsoleFixture(t)

	err := f.console.run(context.Background(), strings.NewReader("ping\nquit\nping\n"))
	require.NoError(t, err)
	assert.Len(t, f.sent(t, message.TypePing), 1)
}

func TestConsole_RunStopsAtEOF(t *testing.T) {
	f := newConsoleFixture(t)

	err := f.console.run(context.Background(), strings.NewReader("subscribe\n"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(f.sent(t, message.TypeSubscribe)), 2)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	sink := consoleSink(&buf)

	require.NoError(t, sink.Publish(context.Background(), "silenced", true))

	var rec session.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "silenced", rec.Key)
	assert.Equal(t, true, rec.Value)
	assert.False(t, rec.Time.IsZero())
}
