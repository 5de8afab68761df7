package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/chatsession/connection"
	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/filter"
	"github.com/c360/chatsession/health"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
	"github.com/c360/chatsession/transport"
)

// Session is one conversation with one peer. It turns intents into
// envelopes, keeps track of when the peer was last heard from, pings it when
// the conversation goes quiet and routes what the peer sends to the built-in
// handlers or the filter chain.
type Session struct {
	cfg     Config
	mgr     *connection.Manager
	chain   *filter.Chain
	pub     *Publisher
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor
	now     func() time.Time

	watchdog     *Watchdog
	modules      []Module
	sinks        []Sink
	onSubscribed SubscribeResponseHook

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	chat         *connection.Chat
	lastSent     time.Time
	lastReceived time.Time
	// awaitingSince is the first send not yet followed by a receipt.
	awaitingSince time.Time
	status        *message.Status
	err           error
	errorCount    int
	errHandlers   []func(error)
	detach        []func()
	authAt        time.Time
	closed        bool
}

// New creates a Session on top of mgr. It fails when cfg is invalid, in
// particular when the ping interval leaves no room for a tick and the
// latency margin.
func New(mgr *connection.Manager, cfg Config, opts ...Option) (*Session, error) {
	if mgr == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: connection manager is required", errors.ErrMissingConfig),
			"Session", "New", "validate manager")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:          cfg,
		mgr:          mgr,
		logger:       slog.Default(),
		now:          time.Now,
		onSubscribed: requestStatusOnSubscribe,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session", "peer", cfg.Peer)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.chain = filter.NewChain(filter.WithLogger(s.logger))
	s.pub = NewPublisher(s.logger)
	for _, sink := range s.sinks {
		s.pub.AddSink(sink)
	}
	if s.metrics != nil {
		s.pub.onPublish = func(key string) { s.metrics.RecordPublished(s.peerLabel(), key) }
	}
	s.watchdog = NewWatchdog(s.tick)

	s.chain.AddAll(s.builtinFilters()...)
	for _, m := range s.modules {
		if hook, ok := m.(AttachHook); ok {
			hook.Attach(s)
		}
		n := s.chain.AddAll(m.Filters()...)
		s.logger.Debug("Module added", "module", m.Name(), "filters", n)
	}
	return s, nil
}

func requestStatusOnSubscribe(ctx context.Context, s *Session, _ *message.Envelope) error {
	return s.RequestStatus(ctx)
}

// Start brings the session up. When the connection is ready it subscribes
// straight away; when a connect or login is under way it waits for it; when
// connected but not logged in it logs in; otherwise it resets the connection
// and connects to address.
func (s *Session) Start(ctx context.Context, address, domain string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapFatal(stderrors.New("session closed"), "Session", "Start", "check lifecycle")
	}
	s.mu.Unlock()

	s.watchdog.Stop()
	s.clearHealth()

	if s.mgr.IsReadyForChat() {
		s.attach()
		s.logger.Info("Connection ready, subscribing")
		return s.becomeReady(ctx)
	}

	if s.mgr.IsConnecting() {
		s.attach()
		s.logger.Info("Waiting for connection to complete", "state", s.mgr.State())
		return nil
	}

	if s.mgr.State() == connection.StateConnected {
		s.attach()
		s.logger.Info("Connected but not authenticated, logging in")
		return s.mgr.Login(s.cfg.Username, s.cfg.Password)
	}

	if err := s.mgr.Reset(); err != nil {
		return err
	}
	s.attach()
	s.logger.Info("Connecting", "address", address, "domain", domain)
	return s.mgr.Connect(address, domain, nil)
}

// Close stops the watchdog, detaches the session from the connection and
// waits for values still queued for sinks. The connection itself stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	detach := s.detach
	s.detach = nil
	s.chat = nil
	s.mu.Unlock()

	s.watchdog.Stop()
	s.cancel()
	for _, fn := range detach {
		fn()
	}
	if s.monitor != nil {
		s.monitor.Remove(s.healthName())
	}
	return s.pub.Close()
}

// attach registers the session's listener and envelope handlers with the
// manager, replacing earlier registrations.
func (s *Session) attach() {
	s.mu.Lock()
	old := s.detach
	s.detach = nil
	s.mu.Unlock()
	for _, fn := range old {
		fn()
	}

	detach := []func(){
		s.mgr.AddListener(&sessionEvents{s: s}),
		s.mgr.AddPeerHandler(s.cfg.Peer, s.onIncoming),
		s.mgr.AddOutgoingHandler(s.onOutgoing),
	}
	s.mu.Lock()
	s.detach = detach
	s.mu.Unlock()
}

// becomeReady opens the chat with the peer, subscribes and restarts the
// watchdog, then lets modules act.
func (s *Session) becomeReady(ctx context.Context) error {
	if err := s.ensureChat(); err != nil {
		return err
	}
	s.watchdog.Stop()
	s.clearHealth()

	s.mu.Lock()
	s.authAt = s.now()
	s.mu.Unlock()

	if err := s.Subscribe(ctx); err != nil {
		return err
	}
	s.watchdog.Start(s.cfg.TickInterval)

	for _, m := range s.modules {
		hook, ok := m.(ReadyHook)
		if !ok {
			continue
		}
		if err := hook.OnReady(ctx, s); err != nil {
			s.logger.Warn("Module ready hook failed", "module", m.Name(), "error", err)
		}
	}
	return nil
}

func (s *Session) ensureChat() error {
	chat, err := s.mgr.CreateChat(s.cfg.Peer)
	if stderrors.Is(err, errors.ErrChatAlreadyExists) {
		var ok bool
		chat, ok = s.mgr.Chat(s.cfg.Peer)
		if !ok {
			return err
		}
	} else if err != nil {
		return err
	}

	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()
	s.chain.BindSender(chat.Peer())
	return nil
}

// Send tags env and sends it to the peer.
func (s *Session) Send(ctx context.Context, env *message.Envelope) error {
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat == nil {
		return errors.WrapInvalid(errors.ErrNotReadyForChat, "Session", "Send", "check chat")
	}
	return s.mgr.SendEnvelope(ctx, chat, env)
}

// Subscribe asks the peer to send notifications to this session.
func (s *Session) Subscribe(ctx context.Context) error {
	s.logger.Debug("Subscribing")
	return s.Send(ctx, message.New(message.TypeSubscribe))
}

// SendPing sends a PING. The answer only matters as proof of life.
func (s *Session) SendPing(ctx context.Context) error {
	if err := s.Send(ctx, message.New(message.TypePing)); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordPing(s.peerLabel())
	}
	return nil
}

// RequestStatus asks the peer for its status.
func (s *Session) RequestStatus(ctx context.Context) error {
	return s.Send(ctx, message.New(message.TypeStatusRequest))
}

// SendCommand sends a COMMAND. The first word of commandAndArgs is the
// command and the other words are its arguments, all lowercased; args are
// appended as given. Nil args are skipped.
func (s *Session) SendCommand(ctx context.Context, commandAndArgs string, args ...any) error {
	env, err := NewCommand(commandAndArgs, args...)
	if err != nil {
		return err
	}
	return s.Send(ctx, env)
}

// NewCommand builds the COMMAND envelope SendCommand sends.
func NewCommand(commandAndArgs string, args ...any) (*message.Envelope, error) {
	parts := strings.Fields(commandAndArgs)
	if len(parts) == 0 {
		return nil, errors.WrapInvalid(
			errors.NewProtocolError("SendCommand", errors.ErrEmptyCommand, commandAndArgs),
			"Session", "SendCommand", "parse command")
	}

	arguments := make([]any, 0, len(parts)-1+len(args))
	for _, p := range parts[1:] {
		arguments = append(arguments, strings.ToLower(p))
	}
	for _, a := range args {
		if a != nil {
			arguments = append(arguments, a)
		}
	}

	return message.New(message.TypeCommand,
		message.FieldCommand, strings.ToLower(parts[0]),
		message.FieldArguments, arguments,
	), nil
}

// AddFilter registers f in the filter chain. The peer's identity is used as
// sender when f names none.
func (s *Session) AddFilter(f *filter.Filter) bool {
	return s.chain.Add(f)
}

// AddFilters registers every filter and returns how many were added.
func (s *Session) AddFilters(filters ...*filter.Filter) int {
	return s.chain.AddAll(filters...)
}

// Filters returns the filter chain.
func (s *Session) Filters() *filter.Chain {
	return s.chain
}

// AddMessageListener observes every envelope the connection receives,
// before any routing.
func (s *Session) AddMessageListener(h connection.EnvelopeHandler) (remove func()) {
	return s.mgr.AddIncomingHandler(h)
}

// Publisher returns the publisher of status, help, version, about and error.
func (s *Session) Publisher() *Publisher {
	return s.pub
}

// OnError registers fn for every error the session raises.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errHandlers = append(s.errHandlers, fn)
}

// Err returns the most recent error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Status returns the latest status the peer reported.
func (s *Session) Status() (message.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return message.Status{}, false
	}
	return *s.status, true
}

// Responding reports whether the peer has been heard from within the
// response window. It is false before anything has been received.
func (s *Session) Responding() bool {
	if !s.mgr.IsReadyForChat() {
		return false
	}
	s.mu.Lock()
	last := s.lastReceived
	s.mu.Unlock()
	return s.respondingAt(last, s.now())
}

func (s *Session) respondingAt(lastReceived, now time.Time) bool {
	if lastReceived.IsZero() {
		return false
	}
	return now.Sub(lastReceived) <= s.cfg.ResponseWindow()
}

// Ready reports whether the connection is ready for chat and the peer is
// responding.
func (s *Session) Ready() bool {
	return s.mgr.IsReadyForChat() && s.Responding()
}

// Now returns the session clock's current time.
func (s *Session) Now() time.Time {
	return s.now()
}

// Modules returns the feature modules the session was built with.
func (s *Session) Modules() []Module {
	out := make([]Module, len(s.modules))
	copy(out, s.modules)
	return out
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Peer returns the peer identity, qualified with the connection's domain.
func (s *Session) Peer() string {
	return message.BareID(message.SanitizeID(s.cfg.Peer, s.mgr.Domain()))
}

// HealthState is a snapshot of when the peer was last written to and heard from.
type HealthState struct {
	LastSent     time.Time     `json:"last_sent"`
	LastReceived time.Time     `json:"last_received"`
	PingInterval time.Duration `json:"ping_interval"`
	Responding   bool          `json:"responding"`
}

// Health returns the current health state.
func (s *Session) Health() HealthState {
	responding := s.Responding()
	s.mu.Lock()
	defer s.mu.Unlock()
	return HealthState{
		LastSent:     s.lastSent,
		LastReceived: s.lastReceived,
		PingInterval: s.cfg.PingInterval,
		Responding:   responding,
	}
}

func (s *Session) clearHealth() {
	s.mu.Lock()
	s.clearHealthLocked()
	s.mu.Unlock()
}

func (s *Session) clearHealthLocked() {
	s.lastSent = time.Time{}
	s.lastReceived = time.Time{}
	s.awaitingSince = time.Time{}
}

func (s *Session) onOutgoing(_ *message.Envelope) {
	s.mu.Lock()
	s.lastSent = s.now()
	if s.awaitingSince.IsZero() {
		s.awaitingSince = s.lastSent
	}
	s.mu.Unlock()
}

// onIncoming routes an envelope that arrived from the peer's transport
// address, whatever its Sender field says.
func (s *Session) onIncoming(env *message.Envelope) {
	s.mu.Lock()
	s.lastReceived = s.now()
	s.awaitingSince = time.Time{}
	s.mu.Unlock()

	switch env.Type {
	case message.TypeNotification:
		if !env.Has(message.FieldServiceEvent) {
			s.dispatch(env)
			return
		}
		s.onServiceEvent(env)

	case message.TypeSubscribeResponse:
		s.logger.Debug("Subscribe response received")
		if err := s.onSubscribed(s.ctx, s, env); err != nil {
			s.logger.Warn("Subscribe response hook failed", "error", err)
		}

	case message.TypePingResponse:
		s.logger.Debug("Ping response received")

	case message.TypeStatusResponse:
		s.updateStatus(env)

	case message.TypeError:
		msg, err := message.ErrorMessageOf(env)
		if err != nil {
			s.logger.Warn("Malformed error envelope", "tag", env.Tag, "error", err)
		}
		s.raise(errors.NewProtocolError("peer", fmt.Errorf("%w: %s", errors.ErrPeerError, msg), env))

	default:
		s.dispatch(env)
	}
}

func (s *Session) onServiceEvent(env *message.Envelope) {
	event, ok := message.ServiceEventOf(env)
	if !ok {
		raw, _ := env.Get(message.FieldServiceEvent)
		s.logger.Debug("Unrecognised service event", "value", raw)
		return
	}

	switch {
	case event.GoingAway():
		s.clearHealth()
		s.watchdog.Restart(s.cfg.TickInterval)
		s.raise(errors.NewLivenessError("service event",
			fmt.Errorf("%w: service %s is %s", errors.ErrPeerUnavailable, s.Peer(), strings.ToLower(event.String()))))
	case event == message.ServiceEventStatusUpdate:
		s.updateStatus(env)
	default:
		s.logger.Debug("Service event", "event", event)
	}
}

func (s *Session) dispatch(env *message.Envelope) {
	n := s.chain.Dispatch(env)
	if s.metrics != nil {
		s.metrics.RecordFilterMatches(s.peerLabel(), n)
	}
	if n == 0 {
		s.logger.Debug("No filter matched", "type", env.Type, "tag", env.Tag)
	}
}

func (s *Session) updateStatus(env *message.Envelope) {
	status, err := message.StatusFromEnvelope(env)
	if err != nil {
		s.logger.Warn("Invalid status", "tag", env.Tag, "error", err)
		return
	}
	s.mu.Lock()
	s.status = &status
	s.mu.Unlock()
	s.pub.Publish(KeyStatus, status)
}

// raise records err as the current error and notifies error handlers.
func (s *Session) raise(err error) {
	s.mu.Lock()
	s.err = err
	s.errorCount++
	handlers := make([]func(error), len(s.errHandlers))
	copy(handlers, s.errHandlers)
	s.mu.Unlock()

	kind := "unknown"
	var se *errors.SessionError
	if stderrors.As(err, &se) {
		kind = se.Kind.String()
	}
	s.logger.Error("Session error", "kind", kind, "error", err)
	if s.metrics != nil {
		s.metrics.RecordSessionError(s.peerLabel(), kind)
	}

	s.pub.Publish(KeyError, err.Error())
	for _, h := range handlers {
		h(err)
	}
}

// tick is one watchdog round: report silence, ping when quiet, run module
// hooks. It returns the delay until the next round.
func (s *Session) tick() time.Duration {
	next := s.cfg.TickInterval
	now := s.now()

	s.mu.Lock()
	lastSent, lastReceived, awaiting := s.lastSent, s.lastReceived, s.awaitingSince
	s.mu.Unlock()

	ready := s.mgr.IsReadyForChat()
	responding := ready && s.respondingAt(lastReceived, now)

	if !s.mgr.IsConnecting() && !responding {
		if err := s.silenceError(awaiting, lastReceived, now); err != nil {
			s.raise(err)
		}
	}

	if !lastSent.IsZero() {
		since := lastSent
		if lastReceived.After(since) {
			since = lastReceived
		}
		if now.Sub(since) > s.cfg.PingInterval {
			if err := s.SendPing(s.ctx); err != nil {
				s.logger.Warn("Ping failed", "error", err)
			} else {
				s.logger.Debug("Ping sent")
			}
		}
	}

	for _, m := range s.modules {
		if hook, ok := m.(TickHook); ok {
			hook.OnTick(s.ctx, s, now)
		}
	}

	s.report(ready, responding, lastReceived)

	if ready {
		next = s.untilNextPing(now)
	}
	return next
}

// untilNextPing is the delay to the next round: the tick interval, or less
// when a ping falls due sooner, but never under a quarter tick interval.
func (s *Session) untilNextPing(now time.Time) time.Duration {
	next := s.cfg.TickInterval

	s.mu.Lock()
	lastSent, since := s.lastSent, s.lastSent
	if s.lastReceived.After(since) {
		since = s.lastReceived
	}
	s.mu.Unlock()
	if lastSent.IsZero() {
		return next
	}

	// A ping goes out once the quiet spell exceeds the ping interval.
	if due := since.Add(s.cfg.PingInterval).Sub(now) + time.Millisecond; due < next {
		next = due
	}
	if floor := s.cfg.TickInterval / 4; next < floor {
		next = floor
	}
	return next
}

// silenceError returns the liveness error for a peer that is not
// responding, or nil while a first answer may still be on its way.
func (s *Session) silenceError(awaiting, lastReceived, now time.Time) error {
	base := fmt.Errorf("%w: service %s is not responding", errors.ErrPeerNotResponding, s.Peer())
	if lastReceived.IsZero() {
		if awaiting.IsZero() {
			return nil
		}
		waited := now.Sub(awaiting)
		if waited <= s.cfg.ResponseWindow() {
			return nil
		}
		return errors.NewLivenessError("watchdog",
			fmt.Errorf("%w ... message sent %dms ago but no message yet received", base, waited.Milliseconds()))
	}
	return errors.NewLivenessError("watchdog",
		fmt.Errorf("%w ... last message received %dms ago", base, now.Sub(lastReceived).Milliseconds()))
}

func (s *Session) report(ready, responding bool, lastReceived time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPeerResponding(s.peerLabel(), responding)
	}
	if s.monitor == nil {
		return
	}

	s.mu.Lock()
	ph := health.PeerHealth{
		Authenticated: ready,
		Responding:    responding,
		ErrorCount:    s.errorCount,
		LastReceived:  lastReceived,
	}
	if s.err != nil {
		ph.LastError = s.err.Error()
	}
	if !s.authAt.IsZero() {
		ph.Uptime = s.now().Sub(s.authAt)
	}
	s.mu.Unlock()

	s.monitor.Update(s.healthName(), health.FromPeer(s.healthName(), ph))
}

func (s *Session) healthName() string {
	return "session:" + s.peerLabel()
}

func (s *Session) peerLabel() string {
	return strings.ToLower(s.Peer())
}

// sessionEvents carries the connection's lifecycle callbacks to the session.
type sessionEvents struct {
	s *Session
}

var _ transport.Listener = (*sessionEvents)(nil)

func (e *sessionEvents) Connected() {
	if e.s.mgr.Resuming() {
		e.s.logger.Info("Transport reconnected, waiting for it to resume the login")
		return
	}
	if err := e.s.mgr.Login(e.s.cfg.Username, e.s.cfg.Password); err != nil {
		e.s.raise(errors.NewConnectionError("login", err))
	}
}

func (e *sessionEvents) Authenticated(resumed bool) {
	s := e.s
	s.logger.Info("Authenticated, subscribing", "resumed", resumed)
	if err := s.becomeReady(s.ctx); err != nil {
		s.raise(errors.NewConnectionError("subscribe", err))
	}
}

func (e *sessionEvents) ConnectionClosed() {
	e.s.connectionLost()
}

func (e *sessionEvents) ConnectionClosedOnError(err error) {
	e.s.connectionLost()
	e.s.raise(asConnectionError("connection", err))
}

func (e *sessionEvents) ConnectFailed(err error) {
	e.s.raise(asConnectionError("connect", err))
}

func (e *sessionEvents) AuthenticationFailed(err error) {
	e.s.raise(asConnectionError("login", err))
}

func (e *sessionEvents) ReconnectingIn(delay time.Duration) {
	e.s.logger.Info("Connection will retry", "delay", delay)
}

func (e *sessionEvents) ReconnectionFailed(err error) {
	e.s.connectionLost()
	e.s.raise(asConnectionError("reconnect", err))
}

func (s *Session) connectionLost() {
	s.mu.Lock()
	s.chat = nil
	s.clearHealthLocked()
	s.mu.Unlock()
}

func asConnectionError(op string, err error) error {
	if errors.IsConnectionError(err) {
		return err
	}
	return errors.NewConnectionError(op, err)
}
