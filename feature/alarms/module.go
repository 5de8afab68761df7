package alarms

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/c360/chatsession/filter"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/session"
)

// Commands understood by the alarms service.
const (
	CommandListAlarms = "list-alarms"
	CommandTestAlarm  = "test-alarm"
	CommandTestBuzzer = "test-buzzer"
	CommandTestPilot  = "test-pilot"
	CommandSilence    = "silence"
	CommandUnsilence  = "unsilence"
)

// Envelope fields used by the alarms service.
const (
	FieldAlarms   = "Alarms"
	FieldAlarm    = "Alarm"
	FieldBuzzer   = "Buzzer"
	FieldPilot    = "Pilot"
	FieldTest     = "Test"
	FieldSilenced = "Silenced"
)

// Published keys.
const (
	KeyAlarms       = "alarms"
	KeyAlertedAlarm = "alerted_alarm"
	KeyTest         = "test"
	KeySilenced     = "silenced"
)

// Defaults.
const (
	DefaultTestDuration    = 5 * time.Second
	DefaultSilenceDuration = 60 * time.Second
	DefaultRefreshInterval = 30 * time.Second
)

// Option configures a Module.
type Option func(*Module)

// WithRefreshInterval sets how often the alarm list is requested again.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Module) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Module is the alarms feature: it keeps the alarm list current and tracks
// alerts, tests and silencing on the alarm panel.
type Module struct {
	refresh time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	session     *session.Session
	alarms      []Alarm
	alerted     *Alarm
	buzzerOn    bool
	pilotOn     bool
	silenced    bool
	test        Test
	lastRequest time.Time
}

var (
	_ session.Module     = (*Module)(nil)
	_ session.AttachHook = (*Module)(nil)
	_ session.ReadyHook  = (*Module)(nil)
	_ session.TickHook   = (*Module)(nil)
)

// New creates the alarms module.
func New(opts ...Option) *Module {
	m := &Module{
		refresh: DefaultRefreshInterval,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("module", "alarms")
	return m
}

// Name returns "alarms".
func (m *Module) Name() string { return "alarms" }

// Commands lists the alarm commands.
func (m *Module) Commands() []session.Command {
	return []session.Command{
		{Name: CommandListAlarms, Usage: CommandListAlarms, Description: "List alarms and their states"},
		{Name: CommandTestAlarm, Usage: CommandTestAlarm + " <id> [secs]", Description: "Raise an alarm for a test"},
		{Name: CommandTestBuzzer, Usage: CommandTestBuzzer + " [secs]", Description: "Sound the buzzer"},
		{Name: CommandTestPilot, Usage: CommandTestPilot + " [secs]", Description: "Light the pilot"},
		{Name: CommandSilence, Usage: CommandSilence + " [secs]", Description: "Silence the buzzer"},
		{Name: CommandUnsilence, Usage: CommandUnsilence, Description: "End silencing"},
	}
}

// Attach records the session the module sends through.
func (m *Module) Attach(s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// Filters returns the alarm filters.
func (m *Module) Filters() []*filter.Filter {
	return []*filter.Filter{
		filter.CommandResponse(CommandListAlarms, m.onAlarmsList),
		filter.Alert(m.onAlert),
		filter.Notification(m.onTest, FieldTest),
		filter.Notification(m.onSilenced, FieldSilenced),
	}
}

// OnReady requests the alarm list.
func (m *Module) OnReady(ctx context.Context, s *session.Session) error {
	return m.requestList(ctx, s)
}

// OnTick requests the alarm list again once the refresh interval has passed.
func (m *Module) OnTick(ctx context.Context, s *session.Session, now time.Time) {
	m.mu.Lock()
	last := m.lastRequest
	m.mu.Unlock()

	if last.IsZero() || now.Sub(last) <= m.refresh {
		return
	}
	if err := m.requestList(ctx, s); err != nil {
		m.logger.Warn("Alarm list refresh failed", "error", err)
	}
}

// RequestAlarmsList asks the service for the alarm list.
func (m *Module) RequestAlarmsList(ctx context.Context) error {
	s, err := m.attached()
	if err != nil {
		return err
	}
	return m.requestList(ctx, s)
}

func (m *Module) requestList(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	m.lastRequest = s.Now()
	m.mu.Unlock()
	return s.SendCommand(ctx, CommandListAlarms)
}

// TestAlarm raises alarm id for d, DefaultTestDuration when d is zero.
func (m *Module) TestAlarm(ctx context.Context, id string, d time.Duration) error {
	return m.send(ctx, CommandTestAlarm+" "+id, seconds(d, DefaultTestDuration))
}

// TestBuzzer sounds the buzzer for d.
func (m *Module) TestBuzzer(ctx context.Context, d time.Duration) error {
	return m.send(ctx, CommandTestBuzzer, seconds(d, DefaultTestDuration))
}

// TestPilot lights the pilot for d.
func (m *Module) TestPilot(ctx context.Context, d time.Duration) error {
	return m.send(ctx, CommandTestPilot, seconds(d, DefaultTestDuration))
}

// Silence silences the buzzer for d, DefaultSilenceDuration when d is zero.
func (m *Module) Silence(ctx context.Context, d time.Duration) error {
	return m.send(ctx, CommandSilence, seconds(d, DefaultSilenceDuration))
}

// Unsilence ends silencing.
func (m *Module) Unsilence(ctx context.Context) error {
	return m.send(ctx, CommandUnsilence)
}

func (m *Module) send(ctx context.Context, command string, args ...any) error {
	s, err := m.attached()
	if err != nil {
		return err
	}
	return s.SendCommand(ctx, command, args...)
}

func (m *Module) attached() (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errNotAttached
	}
	return m.session, nil
}

func seconds(d, fallback time.Duration) int {
	if d <= 0 {
		d = fallback
	}
	return int(d / time.Second)
}

// Alarms returns the latest alarm list.
func (m *Module) Alarms() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alarm, len(m.alarms))
	copy(out, m.alarms)
	return out
}

// AlertedAlarm returns the alarm of the latest alert.
func (m *Module) AlertedAlarm() (Alarm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alerted == nil {
		return Alarm{}, false
	}
	return *m.alerted, true
}

// BuzzerOn reports the buzzer state of the latest alert.
func (m *Module) BuzzerOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buzzerOn
}

// PilotOn reports the pilot state of the latest alert.
func (m *Module) PilotOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pilotOn
}

// CurrentTest returns the test in progress.
func (m *Module) CurrentTest() Test {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.test
}

// Testing reports whether any test is in progress.
func (m *Module) Testing() bool {
	return m.CurrentTest() != TestNone
}

// Silenced reports whether the buzzer is silenced.
func (m *Module) Silenced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silenced
}

func (m *Module) onAlarmsList(env *message.Envelope) {
	raw, ok := env.Get(FieldAlarms)
	if !ok {
		m.logger.Warn("Alarm list response without alarms", "tag", env.Tag)
		return
	}
	list, err := AlarmsFromValue(raw)
	if err != nil {
		m.logger.Warn("Alarm list has invalid entries", "error", err)
	}
	m.mu.Lock()
	m.alarms = list
	m.mu.Unlock()
	m.publish(KeyAlarms, list)
}

func (m *Module) onAlert(env *message.Envelope) {
	raw, _ := env.Get(FieldAlarm)
	alarm, err := AlarmFromValue(raw)
	if err != nil {
		m.logger.Warn("Alert without a valid alarm", "tag", env.Tag, "error", err)
		return
	}
	buzzer, _ := env.GetBool(FieldBuzzer)
	pilot, _ := env.GetBool(FieldPilot)

	m.mu.Lock()
	m.alerted = &alarm
	m.buzzerOn = buzzer
	m.pilotOn = pilot
	for i := range m.alarms {
		if m.alarms[i].ID == alarm.ID {
			m.alarms[i] = alarm
		}
	}
	m.mu.Unlock()

	m.logger.Info("Alarm alert", "alarm", alarm.ID, "state", alarm.State, "buzzer", buzzer, "pilot", pilot)
	m.publish(KeyAlertedAlarm, alarm)
}

func (m *Module) onTest(env *message.Envelope) {
	raw, _ := env.Get(FieldTest)
	test, err := ParseTest(raw)
	if err != nil {
		m.logger.Warn("Invalid test notification", "tag", env.Tag, "error", err)
		return
	}
	m.mu.Lock()
	m.test = test
	m.mu.Unlock()
	m.publish(KeyTest, test)
}

func (m *Module) onSilenced(env *message.Envelope) {
	silenced, ok := env.GetBool(FieldSilenced)
	if !ok {
		m.logger.Warn("Invalid silenced notification", "tag", env.Tag)
		return
	}
	m.mu.Lock()
	m.silenced = silenced
	m.mu.Unlock()
	m.publish(KeySilenced, silenced)
}

func (m *Module) publish(key string, value any) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.Publisher().Publish(key, value)
	}
}

// String describes the alarm for logs and the command line.
func (a Alarm) String() string {
	s := a.ID + " " + a.State.String()
	if a.Name != "" {
		s += " (" + a.Name + ")"
	}
	if a.Testing {
		s += " testing"
	}
	return s
}

// ParseSeconds reads a duration given in whole seconds, as the command line
// passes them.
func ParseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errInvalidSeconds(s)
	}
	return time.Duration(n) * time.Second, nil
}
