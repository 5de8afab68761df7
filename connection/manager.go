package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/metric"
	"github.com/c360/chatsession/pkg/worker"
	"github.com/c360/chatsession/transport"
)

const (
	defaultTimeout = 30 * time.Second
	stopTimeout    = 5 * time.Second
)

// EnvelopeHandler observes decoded envelopes.
type EnvelopeHandler func(env *message.Envelope)

// Chat is an open conversation with one peer.
type Chat struct {
	peer string
	chat transport.Chat
}

// Peer returns the bare id of the remote party.
func (c *Chat) Peer() string { return c.peer }

// Stats is a snapshot of the manager's counters.
type Stats struct {
	State             State  `json:"state"`
	MessagesSent      int64  `json:"messages_sent"`
	MessagesReceived  int64  `json:"messages_received"`
	EnvelopesSent     int64  `json:"envelopes_sent"`
	EnvelopesReceived int64  `json:"envelopes_received"`
	DecodeErrors      int64  `json:"decode_errors"`
	Chats             int    `json:"chats"`
	LastError         string `json:"last_error,omitempty"`
}

type taskKind int

const (
	taskConnect taskKind = iota
	taskLogin
)

type task struct {
	kind     taskKind
	address  string
	domain   string
	username string
	password string
}

type listenerEntry struct {
	id int
	l  transport.Listener
}

type handlerEntry struct {
	id   int
	peer string
	h    EnvelopeHandler
}

// Manager owns the connection to the chat transport. Connect and Login run
// on a single background worker, so at most one of them is in flight. All
// transport callbacks drive the state machine and are then fanned out to the
// registered listeners.
type Manager struct {
	adapter  transport.Adapter
	codec    message.Codec
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry
	timeout  time.Duration
	now      func() time.Time

	pool   *worker.Pool[task]
	cancel context.CancelFunc

	mu               sync.Mutex
	machine          *fsm.FSM
	connectInFlight  bool
	loginInFlight    bool
	disconnecting    bool
	resuming         bool
	wasAuthenticated bool
	closed           bool
	chats            map[string]*Chat
	listeners        []listenerEntry
	incoming         []handlerEntry
	outgoing         []handlerEntry
	nextID           int
	lastErr          error

	messagesSent      int64
	messagesReceived  int64
	envelopesSent     int64
	envelopesReceived int64
	decodeErrors      int64
}

// NewManager creates a manager for adapter and starts its worker.
func NewManager(adapter transport.Adapter, opts ...Option) (*Manager, error) {
	if adapter == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: adapter is required", errors.ErrMissingConfig),
			"Manager", "NewManager", "validate adapter")
	}

	m := &Manager{
		adapter: adapter,
		codec:   message.JSONCodec{},
		logger:  slog.Default(),
		timeout: defaultTimeout,
		now:     time.Now,
		chats:   make(map[string]*Chat),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")
	m.machine = newStateMachine(m.enterState)

	poolOpts := []worker.Option[task]{
		worker.WithErrorHandler(func(t task, err error) {
			m.logger.Debug("connection task failed", "task", t.kind, "error", err)
		}),
	}
	if m.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[task](m.registry, "connection_tasks"))
	}
	m.pool = worker.NewPool(1, 4, m.run, poolOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if err := m.pool.Start(ctx); err != nil {
		cancel()
		return nil, errors.WrapFatal(err, "Manager", "NewManager", "start worker")
	}

	adapter.SetListener(&adapterEvents{m: m})
	if m.metrics != nil {
		m.metrics.RecordConnectionState(int(StateDisconnected))
	}
	return m, nil
}

// Connect starts connecting to address in the background. Progress is
// reported to listener, which is registered unless nil, already present or
// the call is rejected.
// Connect is a no-op when a connection is already established.
func (m *Manager) Connect(address, domain string, listener transport.Listener) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapFatal(worker.ErrPoolStopped, "Manager", "Connect", "check lifecycle")
	}
	state := m.stateLocked()
	if state == StateConnecting || m.connectInFlight || m.loginInFlight {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyConnecting, "Manager", "Connect", "check state")
	}
	if listener != nil {
		m.addListenerLocked(listener)
	}
	if state == StateConnected || state == StateAuthenticating || state == StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	m.fireLocked(eventConnect)
	m.connectInFlight = true
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("Connecting", "address", address, "domain", domain)
	err := m.pool.Submit(task{kind: taskConnect, address: address, domain: domain})
	if err != nil {
		m.mu.Lock()
		m.connectInFlight = false
		m.fireLocked(eventReset)
		m.mu.Unlock()
		return errors.WrapTransient(err, "Manager", "Connect", "queue connect")
	}
	return nil
}

// Login starts authenticating the open connection in the background. It is a
// no-op when already authenticated.
func (m *Manager) Login(username, password string) error {
	m.mu.Lock()
	if m.connectInFlight {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectInProgress, "Manager", "Login", "check state")
	}
	state := m.stateLocked()
	switch {
	case state == StateAuthenticated:
		m.mu.Unlock()
		return nil
	case m.loginInFlight || state == StateAuthenticating:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrLoginInProgress, "Manager", "Login", "check state")
	case state != StateConnected:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotConnected, "Manager", "Login", "check state")
	}
	m.fireLocked(eventLogin)
	m.loginInFlight = true
	m.mu.Unlock()

	m.logger.Info("Logging in", "username", username)
	err := m.pool.Submit(task{kind: taskLogin, username: username, password: password})
	if err != nil {
		m.mu.Lock()
		m.loginInFlight = false
		m.fireLocked(eventAuthFailed)
		m.mu.Unlock()
		return errors.WrapTransient(err, "Manager", "Login", "queue login")
	}
	return nil
}

// Disconnect closes the connection and clears every chat, listener and
// handler. It is refused while a connect started by Connect is in flight.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.connectInFlight {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectInProgress, "Manager", "Disconnect", "check state")
	}
	m.disconnecting = true
	m.mu.Unlock()

	err := m.adapter.Disconnect()

	m.mu.Lock()
	m.disconnecting = false
	m.resetLocked(true)
	m.mu.Unlock()

	if err != nil {
		return errors.WrapTransient(err, "Manager", "Disconnect", "close transport")
	}
	m.logger.Info("Disconnected")
	return nil
}

// Reset returns the manager to its initial state. It behaves like Disconnect.
func (m *Manager) Reset() error {
	return m.Disconnect()
}

// Close stops the worker, cancelling any connect in flight, and disconnects.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	stopErr := m.pool.Stop(stopTimeout)

	m.mu.Lock()
	m.connectInFlight = false
	m.loginInFlight = false
	m.mu.Unlock()

	if err := m.Disconnect(); err != nil {
		return err
	}
	if stopErr != nil {
		return errors.WrapTransient(stopErr, "Manager", "Close", "stop worker")
	}
	return nil
}

// CreateChat opens a chat with peer. The peer is qualified with the
// connection's domain when it has none.
func (m *Manager) CreateChat(peer string) (*Chat, error) {
	if !m.adapter.IsConnected() {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Manager", "CreateChat", "check connection")
	}
	id := m.chatID(peer)

	m.mu.Lock()
	_, exists := m.chats[id]
	m.mu.Unlock()
	if exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrChatAlreadyExists, id),
			"Manager", "CreateChat", "check chats")
	}

	cm := m.adapter.ChatManager()
	if cm == nil {
		return nil, errors.WrapInvalid(errors.ErrNoChatManager, "Manager", "CreateChat", "get chat manager")
	}
	tc, err := cm.ChatWith(id)
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "CreateChat", "open chat")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chats[id]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrChatAlreadyExists, id),
			"Manager", "CreateChat", "register chat")
	}
	chat := &Chat{peer: id, chat: tc}
	m.chats[id] = chat
	m.logger.Debug("Chat created", "peer", id)
	return chat, nil
}

// Chat returns the open chat with peer.
func (m *Manager) Chat(peer string) (*Chat, bool) {
	id := m.chatID(peer)
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	return chat, ok
}

// SendEnvelope tags env, stamps the sender and sends it on chat.
func (m *Manager) SendEnvelope(ctx context.Context, chat *Chat, env *message.Envelope) error {
	if chat == nil || env == nil {
		return errors.WrapInvalid(errors.ErrNotReadyForChat, "Manager", "SendEnvelope", "check chat")
	}
	env.EnsureTag(m.now())
	if env.Sender == "" {
		env.Sender = m.adapter.Identity()
	}

	body, err := m.codec.Encode(env)
	if err != nil {
		return err
	}
	msg := transport.Message{Subject: transport.EnvelopeSubject, Body: body}
	if err := chat.chat.Send(ctx, msg); err != nil {
		m.setLastError(err)
		return errors.WrapTransient(err, "Manager", "SendEnvelope", "send message")
	}

	m.mu.Lock()
	m.envelopesSent++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordEnvelopeSent(chat.peer, env.Type.String())
	}
	return nil
}

// AddListener registers l and returns a function that removes it.
func (m *Manager) AddListener(l transport.Listener) (remove func()) {
	m.mu.Lock()
	id := m.addListenerLocked(l)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// RemoveListener unregisters l. Listeners of non-comparable types can only
// be removed through the function returned by AddListener.
func (m *Manager) RemoveListener(l transport.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.listeners {
		if sameListener(e.l, l) {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// AddIncomingHandler registers h for every decoded incoming envelope.
func (m *Manager) AddIncomingHandler(h EnvelopeHandler) (remove func()) {
	return m.addHandler(&m.incoming, "", h)
}

// AddPeerHandler registers h for incoming envelopes whose transport origin
// is peer. The envelope's own Sender field is not consulted.
func (m *Manager) AddPeerHandler(peer string, h EnvelopeHandler) (remove func()) {
	return m.addHandler(&m.incoming, peer, h)
}

// AddOutgoingHandler registers h for every envelope sent on any chat.
func (m *Manager) AddOutgoingHandler(h EnvelopeHandler) (remove func()) {
	return m.addHandler(&m.outgoing, "", h)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// IsConnecting reports whether a connect or login is under way, including
// reconnects driven by the transport.
func (m *Manager) IsConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.stateLocked()
	return m.connectInFlight || m.loginInFlight || m.resuming ||
		state == StateConnecting || state == StateAuthenticating
}

// IsReadyForChat reports whether chats can be created and used.
func (m *Manager) IsReadyForChat() bool {
	if m.State() != StateAuthenticated {
		return false
	}
	return m.adapter.IsAuthenticated()
}

// Resuming reports whether the transport reconnected on its own and is
// expected to re-authenticate without a Login.
func (m *Manager) Resuming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resuming
}

// Identity returns the authenticated identity, or "".
func (m *Manager) Identity() string {
	return m.adapter.Identity()
}

// Domain returns the domain of the current connection.
func (m *Manager) Domain() string {
	return m.adapter.Domain()
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		State:             m.stateLocked(),
		MessagesSent:      m.messagesSent,
		MessagesReceived:  m.messagesReceived,
		EnvelopesSent:     m.envelopesSent,
		EnvelopesReceived: m.envelopesReceived,
		DecodeErrors:      m.decodeErrors,
		Chats:             len(m.chats),
	}
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	return stats
}

// chatID is the key chats are stored under: the lowercased bare id.
func (m *Manager) chatID(peer string) string {
	return strings.ToLower(message.BareID(message.SanitizeID(peer, m.adapter.Domain())))
}

func (m *Manager) run(ctx context.Context, t task) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	switch t.kind {
	case taskConnect:
		if err := m.adapter.Connect(ctx, t.address, t.domain); err != nil {
			m.connectFailed(err)
			return err
		}
		m.mu.Lock()
		m.connectInFlight = false
		m.mu.Unlock()
	case taskLogin:
		if err := m.adapter.Login(ctx, t.username, t.password); err != nil {
			m.loginFailed(err)
			return err
		}
		m.mu.Lock()
		m.loginInFlight = false
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) connectFailed(err error) {
	cerr := errors.NewConnectionError("connect", err)
	m.mu.Lock()
	m.connectInFlight = false
	m.lastErr = cerr
	m.fireLocked(eventFail)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Connect failed", "error", err)
	for _, l := range listeners {
		l.ConnectFailed(cerr)
	}

	m.mu.Lock()
	m.resetLocked(false)
	m.mu.Unlock()
}

func (m *Manager) loginFailed(err error) {
	m.mu.Lock()
	m.loginInFlight = false
	m.lastErr = err
	m.fireLocked(eventAuthFailed)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Login failed", "error", err)
	for _, l := range listeners {
		l.AuthenticationFailed(err)
	}
}

func (m *Manager) handleIncoming(_ transport.Chat, msg transport.Message) {
	m.mu.Lock()
	m.messagesReceived++
	m.mu.Unlock()

	if !msg.IsEnvelope() {
		m.logger.Debug("Ignoring plain chat message", "from", msg.From)
		return
	}
	env, err := m.codec.Decode(msg.Body)
	if err != nil {
		m.mu.Lock()
		m.decodeErrors++
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordDecodeError()
		}
		m.logger.Warn("Dropping undecodable envelope", "from", msg.From, "error", err)
		return
	}
	if env.Sender == "" {
		env.Sender = msg.From
	}

	m.mu.Lock()
	m.envelopesReceived++
	handlers := append([]handlerEntry(nil), m.incoming...)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordEnvelopeReceived(message.BareID(env.Sender), env.Type.String())
	}
	from := strings.ToLower(message.BareID(msg.From))
	for _, e := range handlers {
		if e.peer != "" && from != m.chatID(e.peer) {
			continue
		}
		e.h(env)
	}
}

func (m *Manager) handleOutgoing(chat transport.Chat, msg transport.Message) {
	m.mu.Lock()
	m.messagesSent++
	handlers := snapshot(m.outgoing)
	m.mu.Unlock()

	if !msg.IsEnvelope() || len(handlers) == 0 {
		return
	}
	env, err := m.codec.Decode(msg.Body)
	if err != nil {
		m.logger.Debug("Outgoing message is not a valid envelope", "peer", chat.Peer(), "error", err)
		return
	}
	for _, h := range handlers {
		h(env)
	}
}

func (m *Manager) installChatHandlers() {
	cm := m.adapter.ChatManager()
	if cm == nil {
		return
	}
	cm.SetIncomingHandler(m.handleIncoming)
	cm.SetOutgoingHandler(m.handleOutgoing)
}

func (m *Manager) enterState(_ context.Context, e *fsm.Event) {
	m.logger.Debug("Connection state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
	if m.metrics != nil {
		m.metrics.RecordTransition(e.Src, e.Dst)
		m.metrics.RecordConnectionState(int(parseState(e.Dst)))
	}
}

// fireLocked applies event, ignoring events that are not valid in the
// current state.
func (m *Manager) fireLocked(event string) {
	err := m.machine.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noop fsm.NoTransitionError
	if stderrors.As(err, &noop) {
		return
	}
	m.logger.Debug("Ignoring connection event", "event", event, "state", m.machine.Current(), "error", err)
}

func (m *Manager) stateLocked() State {
	return parseState(m.machine.Current())
}

// resetLocked returns to Disconnected and forgets chats. clear also drops
// listeners and handlers.
func (m *Manager) resetLocked(clear bool) {
	m.fireLocked(eventReset)
	m.chats = make(map[string]*Chat)
	m.connectInFlight = false
	m.loginInFlight = false
	m.resuming = false
	if clear {
		m.wasAuthenticated = false
		m.listeners = nil
		m.incoming = nil
		m.outgoing = nil
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) addListenerLocked(l transport.Listener) int {
	for _, e := range m.listeners {
		if sameListener(e.l, l) {
			return e.id
		}
	}
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextID, l: l})
	return m.nextID
}

func (m *Manager) listenersLocked() []transport.Listener {
	out := make([]transport.Listener, len(m.listeners))
	for i, e := range m.listeners {
		out[i] = e.l
	}
	return out
}

func (m *Manager) addHandler(list *[]handlerEntry, peer string, h EnvelopeHandler) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	*list = append(*list, handlerEntry{id: id, peer: peer, h: h})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

func snapshot(entries []handlerEntry) []EnvelopeHandler {
	out := make([]EnvelopeHandler, len(entries))
	for i, e := range entries {
		out[i] = e.h
	}
	return out
}

func sameListener(a, b transport.Listener) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
