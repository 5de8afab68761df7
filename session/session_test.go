package session

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/connection"
	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/filter"
	"github.com/c360/chatsession/health"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
	"github.com/c360/chatsession/transport"
	"github.com/c360/chatsession/transport/transporttest"
)

const (
	peerID  = "service@example.com"
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// errorLog records the errors a session raises.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

type fixture struct {
	adapter *transporttest.Adapter
	mgr     *connection.Manager
	session *Session
	clock   *fakeClock
	errs    *errorLog
}

func testConfig() Config {
	return Config{
		Peer:          "service",
		Username:      "station",
		Password:      "secret",
		TickInterval:  time.Minute,
		PingInterval:  5 * time.Minute,
		LatencyMargin: time.Second,
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	adapter := transporttest.New()
	mgr, err := connection.NewManager(adapter)
	require.NoError(t, err)

	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(mgr, testConfig(), opts...)
	require.NoError(t, err)

	errs := &errorLog{}
	s.OnError(errs.add)

	t.Cleanup(func() {
		_ = s.Close()
		_ = mgr.Close()
	})
	return &fixture{adapter: adapter, mgr: mgr, session: s, clock: clock, errs: errs}
}

// start brings the session up and waits for its SUBSCRIBE.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Start(context.Background(), "localhost:4222", "example.com"))
	require.Eventually(t, func() bool {
		return f.count(t, message.TypeSubscribe) == 1
	}, waitFor, poll)
	require.True(t, f.mgr.IsReadyForChat())
}

func (f *fixture) sent(t *testing.T) []*message.Envelope {
	t.Helper()
	envs, err := f.adapter.SentEnvelopes(message.JSONCodec{})
	require.NoError(t, err)
	return envs
}

func (f *fixture) count(t *testing.T, typ message.Type) int {
	n := 0
	for _, env := range f.sent(t) {
		if env.Type == typ {
			n++
		}
	}
	return n
}

func (f *fixture) deliver(t *testing.T, env *message.Envelope) {
	t.Helper()
	if env.Sender == "" {
		env.Sender = peerID + "/svc"
	}
	require.NoError(t, f.adapter.DeliverEnvelope(message.JSONCodec{}, env))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "missing peer",
			mutate:  func(c *Config) { c.Peer = " " },
			wantErr: errors.ErrMissingConfig,
		},
		{
			name: "ping interval too short",
			mutate: func(c *Config) {
				c.TickInterval = 2 * time.Second
				c.LatencyMargin = 2 * time.Second
				c.PingInterval = 3 * time.Second
			},
			wantErr: errors.ErrInvalidConfig,
		},
		{
			name: "ping interval exactly tick plus margin",
			mutate: func(c *Config) {
				c.TickInterval = 2 * time.Second
				c.LatencyMargin = 2 * time.Second
				c.PingInterval = 4 * time.Second
			},
		},
		{
			name:    "response factor below one",
			mutate:  func(c *Config) { c.ResponseFactor = 0.5 },
			wantErr: errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Peer = "service"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ResponseWindow(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.ResponseWindow())
}

func TestNew_FailsFastOnBadTiming(t *testing.T) {
	mgr, err := connection.NewManager(transporttest.New())
	require.NoError(t, err)
	defer mgr.Close()

	cfg := testConfig()
	cfg.PingInterval = cfg.TickInterval
	_, err = New(mgr, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New(nil, testConfig())
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestNewCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		extra    []any
		wantCmd  string
		wantArgs []any
	}{
		{
			name:     "command with arguments",
			input:    "Test-Alarm A1 5",
			wantCmd:  "test-alarm",
			wantArgs: []any{"a1", "5"},
		},
		{
			name:     "extra whitespace",
			input:    "  silence   60  ",
			wantCmd:  "silence",
			wantArgs: []any{"60"},
		},
		{
			name:     "programmatic arguments appended",
			input:    "test-buzzer",
			extra:    []any{10, nil, "Loud"},
			wantCmd:  "test-buzzer",
			wantArgs: []any{10, "Loud"},
		},
		{
			name:     "no arguments",
			input:    "list-alarms",
			wantCmd:  "list-alarms",
			wantArgs: []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewCommand(tt.input, tt.extra...)
			require.NoError(t, err)
			assert.Equal(t, message.TypeCommand, env.Type)

			cmd, ok := env.GetString(message.FieldCommand)
			require.True(t, ok)
			assert.Equal(t, tt.wantCmd, cmd)

			args, ok := env.Get(message.FieldArguments)
			require.True(t, ok)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestNewCommand_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := NewCommand(input)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrEmptyCommand)
		assert.True(t, errors.IsProtocolError(err))
	}
}

func TestSession_SendBeforeReady(t *testing.T) {
	f := newFixture(t)
	err := f.session.SendPing(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotReadyForChat)

	err = f.session.SendCommand(context.Background(), "")
	assert.ErrorIs(t, err, errors.ErrEmptyCommand)
}

func TestSession_StartConnectsLogsInAndSubscribes(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	sent := f.adapter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, peerID, sent[0].To)

	env := f.sent(t)[0]
	assert.Equal(t, message.TypeSubscribe, env.Type)
	assert.Regexp(t, `^MS:\d+$`, env.Tag)
	assert.Equal(t, "station@example.com/test", env.Sender)

	assert.Equal(t, peerID, f.session.Peer())
	assert.Equal(t, peerID, f.session.Filters().Sender())
	assert.Equal(t, f.clock.Now(), f.session.Health().LastSent)
	assert.True(t, f.session.watchdog.Running())
}

func TestSession_StartWhenAlreadyReady(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.session.Start(context.Background(), "localhost:4222", "example.com"))
	assert.Equal(t, 2, f.count(t, message.TypeSubscribe))
	assert.Equal(t, 1, f.adapter.ConnectCalls())
}

func TestSession_SendCommand(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.session.SendCommand(context.Background(), "Test-Alarm A1 5"))

	envs := f.sent(t)
	cmd := envs[len(envs)-1]
	assert.Equal(t, message.TypeCommand, cmd.Type)
	got, _ := cmd.GetString(message.FieldCommand)
	assert.Equal(t, "test-alarm", got)
	args, _ := cmd.GetList(message.FieldArguments)
	assert.Equal(t, []any{"a1", "5"}, args)
}

func TestSession_TagIsKept(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	env := message.New(message.TypeInfo)
	env.Tag = "MS:42"
	require.NoError(t, f.session.Send(context.Background(), env))
	assert.Equal(t, "MS:42", env.Tag)

	envs := f.sent(t)
	assert.Equal(t, "MS:42", envs[len(envs)-1].Tag)
}

func TestSession_SubscribeResponseRequestsStatusOncePerResponse(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.session.Subscribe(context.Background()))
	assert.Equal(t, 2, f.count(t, message.TypeSubscribe))
	assert.Zero(t, f.count(t, message.TypeStatusRequest))

	f.deliver(t, message.New(message.TypeSubscribeResponse))
	assert.Equal(t, 1, f.count(t, message.TypeStatusRequest))
}

func TestSession_CustomSubscribeHook(t *testing.T) {
	var calls int
	f := newFixture(t, WithSubscribeResponseHook(func(ctx context.Context, s *Session, env *message.Envelope) error {
		calls++
		return s.SendCommand(ctx, "help")
	}))
	f.start(t)

	f.deliver(t, message.New(message.TypeSubscribeResponse))
	assert.Equal(t, 1, calls)
	assert.Zero(t, f.count(t, message.TypeStatusRequest))
	assert.Equal(t, 1, f.count(t, message.TypeCommand))
}

func TestSession_StatusResponse(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	var published []any
	f.session.Publisher().Subscribe(KeyStatus, func(v any) { published = append(published, v) })

	f.deliver(t, message.New(message.TypeStatusResponse,
		"ServiceName", "Alarms",
		"StatusCode", 2,
		"StatusMessage", "running",
		"StatusDetails", map[string]any{"Uptime": "3h"},
	))

	status, ok := f.session.Status()
	require.True(t, ok)
	assert.Equal(t, "Alarms", status.ServiceName)
	assert.Equal(t, 2, status.StatusCode)
	assert.Equal(t, "running", status.StatusMessage)
	require.Len(t, published, 1)

	// A status update notification goes the same way.
	f.deliver(t, message.New(message.TypeNotification,
		message.FieldServiceEvent, int(message.ServiceEventStatusUpdate),
		"ServiceName", "Alarms",
		"StatusCode", 3,
	))
	status, _ = f.session.Status()
	assert.Equal(t, 3, status.StatusCode)
	assert.Len(t, published, 2)
}

func TestSession_InvalidStatusIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.deliver(t, message.New(message.TypeStatusResponse, "StatusDetails", "not a map"))
	_, ok := f.session.Status()
	assert.False(t, ok)
}

func TestSession_Responding(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	window := f.session.Config().ResponseWindow()

	assert.False(t, f.session.Responding(), "nothing received yet")
	assert.False(t, f.session.Ready())

	f.deliver(t, message.New(message.TypePingResponse))
	assert.True(t, f.session.Responding())
	assert.True(t, f.session.Ready())

	f.clock.Advance(window)
	assert.True(t, f.session.Responding())

	f.clock.Advance(time.Millisecond)
	assert.False(t, f.session.Responding())

	f.session.tick()
	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.True(t, errors.IsLivenessError(errs[0]))
	assert.ErrorIs(t, errs[0], errors.ErrPeerNotResponding)
	assert.Equal(t, errs[0], f.session.Err())

	value, ok := f.session.Publisher().Value(KeyError)
	require.True(t, ok)
	assert.Equal(t, errs[0].Error(), value)
}

func TestSession_TickWaitsForFirstResponse(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	window := f.session.Config().ResponseWindow()

	f.clock.Advance(window)
	f.session.tick()
	assert.Empty(t, f.errs.all(), "a first answer may still be on its way")

	f.clock.Advance(time.Second)
	f.session.tick()
	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "but no message yet received")
}

func TestSession_TickPingsWhenQuiet(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ping := f.session.Config().PingInterval

	f.clock.Advance(ping)
	f.session.tick()
	assert.Zero(t, f.count(t, message.TypePing))

	f.clock.Advance(time.Second)
	f.session.tick()
	assert.Equal(t, 1, f.count(t, message.TypePing))
	assert.Equal(t, f.clock.Now(), f.session.Health().LastSent)

	// Traffic from the peer postpones the next ping.
	f.deliver(t, message.New(message.TypePingResponse))
	f.clock.Advance(ping)
	f.session.tick()
	assert.Equal(t, 1, f.count(t, message.TypePing))
	assert.Empty(t, f.errs.all())
}

func TestSession_TickNextDelay(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, time.Minute, f.session.tick(), "not connected")

	f.start(t)
	assert.Equal(t, time.Minute, f.session.tick(), "ping far off")

	// The SUBSCRIBE went out at start; the ping is due five minutes later.
	f.clock.Advance(5*time.Minute - 10*time.Second)
	assert.Equal(t, 10*time.Second+time.Millisecond, f.session.tick())

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 15*time.Second, f.session.tick(), "never shorter than a quarter tick")
	assert.Zero(t, f.count(t, message.TypePing))
}

func TestSession_StoppingNotification(t *testing.T) {
	for _, event := range []message.ServiceEvent{message.ServiceEventStopping, message.ServiceEventDisconnecting} {
		t.Run(event.String(), func(t *testing.T) {
			f := newFixture(t)
			f.start(t)

			var filtered int
			f.session.AddFilter(filter.Notification(func(*message.Envelope) { filtered++ }, message.FieldServiceEvent))
			f.session.AddFilter(filter.Of(message.TypeNotification, func(*message.Envelope) { filtered++ }))

			f.deliver(t, message.New(message.TypeNotification, message.FieldServiceEvent, int(event)))

			health := f.session.Health()
			assert.True(t, health.LastSent.IsZero())
			assert.True(t, health.LastReceived.IsZero())
			assert.Zero(t, filtered)

			errs := f.errs.all()
			require.Len(t, errs, 1)
			assert.True(t, errors.IsLivenessError(errs[0]))
			assert.ErrorIs(t, errs[0], errors.ErrPeerUnavailable)
			assert.True(t, f.session.watchdog.Running())
		})
	}
}

// Routing follows the transport address the envelope arrived from; the Sender
// field is whatever the service chose to write.
func TestSession_RoutesByTransportOrigin(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	send := func(env *message.Envelope) {
		t.Helper()
		env.Sender = "Alarms Service"
		body, err := message.JSONCodec{}.Encode(env)
		require.NoError(t, err)
		f.adapter.Deliver(transport.Message{
			From:    peerID + "/svc",
			Subject: transport.EnvelopeSubject,
			Body:    body,
		})
	}

	send(message.New(message.TypePingResponse))
	assert.False(t, f.session.Health().LastReceived.IsZero())
	assert.True(t, f.session.Responding())

	send(message.New(message.TypeNotification, message.FieldServiceEvent, int(message.ServiceEventStopping)))
	health := f.session.Health()
	assert.True(t, health.LastReceived.IsZero())
	assert.True(t, health.LastSent.IsZero())

	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], errors.ErrPeerUnavailable)
}

func TestSession_ConnectedServiceEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	var filtered int
	f.session.AddFilter(filter.Of(message.TypeNotification, func(*message.Envelope) { filtered++ }))
	f.deliver(t, message.New(message.TypeNotification, message.FieldServiceEvent, "Connected"))

	assert.Zero(t, filtered)
	assert.Empty(t, f.errs.all())
	assert.True(t, f.session.Responding())
}

func TestSession_ErrorEnvelope(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	env := message.New(message.TypeError, message.FieldMessage, "alarm panel offline")
	f.deliver(t, env)

	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.True(t, errors.IsProtocolError(errs[0]))
	assert.ErrorIs(t, errs[0], errors.ErrPeerError)
	assert.Contains(t, errs[0].Error(), "alarm panel offline")

	var se *errors.SessionError
	require.True(t, stderrors.As(errs[0], &se))
	detail, ok := se.Detail.(*message.Envelope)
	require.True(t, ok)
	assert.Equal(t, message.TypeError, detail.Type)
}

func TestSession_FilterChainFiresEveryMatch(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	var byType, byField int
	f.session.AddFilters(
		filter.Of(message.TypeInfo, func(*message.Envelope) { byType++ }),
		filter.Data("ID", 7, func(*message.Envelope) { byField++ }),
	)

	f.deliver(t, message.New(message.TypeInfo, "ID", 7))
	assert.Equal(t, 1, byType)
	assert.Equal(t, 1, byField)

	// Another sender never reaches the chain.
	other := message.New(message.TypeInfo, "ID", 7)
	other.Sender = "intruder@example.com"
	f.deliver(t, other)
	assert.Equal(t, 1, byType)
	assert.Equal(t, 1, byField)
}

func TestSession_BuiltinFilters(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	pub := f.session.Publisher()

	f.deliver(t, message.New(message.TypeCommandResponse,
		message.FieldCommand, "version",
		message.FieldVersion, "1.4.2"))
	v, ok := pub.Value(KeyVersion)
	require.True(t, ok)
	assert.Equal(t, "1.4.2", v)

	f.deliver(t, message.New(message.TypeCommandResponse,
		message.FieldCommand, "ABOUT",
		message.FieldAbout, "Alarms service"))
	v, ok = pub.Value(KeyAbout)
	require.True(t, ok)
	assert.Equal(t, "Alarms service", v)

	f.deliver(t, message.New(message.TypeCommandResponse,
		message.FieldCommand, "help",
		message.FieldHelp, map[string]any{"list-alarms": "List alarms", "silence": "Silence for N seconds"}))
	v, ok = pub.Value(KeyHelp)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"list-alarms": "List alarms", "silence": "Silence for N seconds"}, v)
}

func TestSession_MessageListenerSeesEverything(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	var seen []message.Type
	remove := f.session.AddMessageListener(func(env *message.Envelope) { seen = append(seen, env.Type) })
	f.deliver(t, message.New(message.TypePingResponse))
	f.deliver(t, message.New(message.TypeError))
	remove()
	f.deliver(t, message.New(message.TypeInfo))

	assert.Equal(t, []message.Type{message.TypePingResponse, message.TypeError}, seen)
}

func TestSession_ConnectionLossAndResume(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.deliver(t, message.New(message.TypePingResponse))

	f.adapter.DropConnection(stderrors.New("broken pipe"))

	health := f.session.Health()
	assert.True(t, health.LastSent.IsZero())
	assert.True(t, health.LastReceived.IsZero())
	errs := f.errs.all()
	require.Len(t, errs, 1)
	assert.True(t, errors.IsConnectionError(errs[0]))

	err := f.session.SendPing(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotReadyForChat)

	f.adapter.Reconnect()
	assert.Equal(t, 2, f.count(t, message.TypeSubscribe))
	assert.True(t, f.session.watchdog.Running())
	require.NoError(t, f.session.SendPing(context.Background()))
}

func TestSession_LoginFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.adapter.LoginErr = stderrors.New("not authorized")

	require.NoError(t, f.session.Start(context.Background(), "localhost:4222", "example.com"))
	require.Eventually(t, func() bool { return len(f.errs.all()) == 1 }, waitFor, poll)
	assert.True(t, errors.IsConnectionError(f.errs.all()[0]))
	assert.Equal(t, connection.StateConnected, f.mgr.State())

	// Starting again logs in on the open connection.
	f.adapter.LoginErr = nil
	require.NoError(t, f.session.Start(context.Background(), "localhost:4222", "example.com"))
	require.Eventually(t, func() bool { return f.count(t, message.TypeSubscribe) == 1 }, waitFor, poll)
	assert.Equal(t, 1, f.adapter.ConnectCalls())
}

func TestSession_CloseDetaches(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.session.Close())
	assert.False(t, f.session.watchdog.Running())

	var filtered int
	f.session.AddFilter(filter.Of(message.TypeInfo, func(*message.Envelope) { filtered++ }))
	f.deliver(t, message.New(message.TypeInfo))
	assert.Zero(t, filtered)

	err := f.session.Start(context.Background(), "localhost:4222", "example.com")
	assert.True(t, errors.IsFatal(err))
	assert.NoError(t, f.session.Close())
}

type testModule struct {
	mu      sync.Mutex
	ready   int
	ticks   int
	matched int
}

func (m *testModule) Name() string { return "test" }

func (m *testModule) Commands() []Command {
	return []Command{{Name: "diagnose", Usage: "diagnose", Description: "Run peer diagnostics"}}
}

func (m *testModule) Filters() []*filter.Filter {
	return []*filter.Filter{
		filter.CommandResponse("diagnose", func(*message.Envelope) {
			m.mu.Lock()
			m.matched++
			m.mu.Unlock()
		}),
	}
}

func (m *testModule) OnReady(ctx context.Context, s *Session) error {
	m.mu.Lock()
	m.ready++
	m.mu.Unlock()
	return s.SendCommand(ctx, "diagnose")
}

func (m *testModule) OnTick(context.Context, *Session, time.Time) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func TestSession_Modules(t *testing.T) {
	mod := &testModule{}
	f := newFixture(t, WithModules(mod))
	f.start(t)

	require.Eventually(t, func() bool { return f.count(t, message.TypeCommand) == 1 }, waitFor, poll)
	f.deliver(t, message.New(message.TypeCommandResponse, message.FieldCommand, "diagnose"))
	f.session.tick()

	mod.mu.Lock()
	defer mod.mu.Unlock()
	assert.Equal(t, 1, mod.ready)
	assert.Equal(t, 1, mod.matched)
	assert.Equal(t, 1, mod.ticks)
}

func TestSession_ReportsHealthAndMetrics(t *testing.T) {
	monitor := health.NewMonitor()
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, WithHealthMonitor(monitor), WithMetrics(registry.CoreMetrics()))
	f.start(t)

	f.session.tick()
	status, ok := monitor.Get("session:" + peerID)
	require.True(t, ok)
	assert.True(t, status.IsDegraded())

	f.deliver(t, message.New(message.TypePingResponse))
	f.session.tick()
	status, _ = monitor.Get("session:" + peerID)
	assert.True(t, status.IsHealthy())

	require.NoError(t, f.session.Close())
	_, ok = monitor.Get("session:" + peerID)
	assert.False(t, ok)
}

func TestSession_Sinks(t *testing.T) {
	var mu sync.Mutex
	got := map[string]any{}
	sink := SinkFunc(func(_ context.Context, key string, value any) error {
		mu.Lock()
		defer mu.Unlock()
		got[key] = value
		return nil
	})
	f := newFixture(t, WithSinks(sink))
	f.start(t)

	f.deliver(t, message.New(message.TypeCommandResponse,
		message.FieldCommand, "version",
		message.FieldVersion, "2.0"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got[KeyVersion] == "2.0"
	}, waitFor, poll)
}

// Inbound routing goes on while a sink is stuck.
func TestSession_BlockedSinkDoesNotStallRouting(t *testing.T) {
	release := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, _ string, _ any) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	f := newFixture(t, WithSinks(sink))
	f.start(t)
	defer close(release)

	status := message.New(message.TypeStatusResponse,
		"ServiceName", "Alarms", "StatusCode", 2, "StatusMessage", "running")
	status.Sender = peerID
	ping := message.New(message.TypePingResponse)
	ping.Sender = peerID

	done := make(chan error, 1)
	go func() {
		if err := f.adapter.DeliverEnvelope(message.JSONCodec{}, status); err != nil {
			done <- err
			return
		}
		done <- f.adapter.DeliverEnvelope(message.JSONCodec{}, ping)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("inbound routing waited for the sink")
	}
	got, ok := f.session.Status()
	require.True(t, ok)
	assert.Equal(t, "Alarms", got.ServiceName)
	assert.True(t, f.session.Responding())
}
