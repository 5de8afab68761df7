// Package wstransport implements transport.Adapter over a WebSocket chat relay.
//
// The adapter exchanges JSON frames with a Relay: an auth frame answered by
// auth_ok or auth_error, then message frames in both directions. When the
// socket drops the adapter redials with exponential backoff and logs in again
// with the credentials of the last successful login.
package wstransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/pkg/retry"
	"github.com/c360/chatsession/transport"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithReconnectBackoff sets the redial schedule after a dropped socket.
func WithReconnectBackoff(cfg retry.Config) Option {
	return func(a *Adapter) {
		a.reconnect = cfg
	}
}

// WithoutReconnect disables automatic redialing.
func WithoutReconnect() Option {
	return func(a *Adapter) {
		a.reconnectEnabled = false
	}
}

// WithLoginTimeout bounds how long Login waits for the relay's answer.
func WithLoginTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.loginTimeout = d
		}
	}
}

// WithTLS sets the TLS configuration used for wss:// addresses.
func WithTLS(cfg *tls.Config) Option {
	return func(a *Adapter) {
		a.dialer.TLSClientConfig = cfg
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter is a WebSocket chat client.
type Adapter struct {
	dialer           *websocket.Dialer
	reconnect        retry.Config
	reconnectEnabled bool
	loginTimeout     time.Duration
	logger           *slog.Logger

	mu            sync.RWMutex
	conn          *websocket.Conn
	address       string
	domain        string
	identity      string
	username      string
	password      string
	authenticated bool
	closing       bool
	done          chan struct{}
	authReply     chan frame
	listener      transport.Listener
	incoming      transport.IncomingHandler
	outgoing      transport.OutgoingHandler

	writeMu sync.Mutex
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates an Adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		dialer:           &websocket.Dialer{HandshakeTimeout: 45 * time.Second},
		reconnect:        retry.Reconnect(),
		reconnectEnabled: true,
		loginTimeout:     10 * time.Second,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if _, err := retry.NewBackoff(a.reconnect); err != nil {
		return nil, errors.WrapInvalid(err, "wstransport", "New", "validate reconnect backoff")
	}
	return a, nil
}

// Connect dials the relay at address ("ws://host/path").
func (a *Adapter) Connect(ctx context.Context, address, domain string) error {
	if a.IsConnected() {
		return nil
	}

	conn, _, err := a.dialer.DialContext(ctx, address, nil)
	if err != nil {
		return errors.NewConnectionError("wstransport.Connect",
			errors.WrapTransient(err, "wstransport", "Connect", "dial "+address))
	}

	a.mu.Lock()
	a.conn = conn
	a.address = address
	a.domain = domain
	a.closing = false
	a.done = make(chan struct{})
	l := a.listener
	a.mu.Unlock()

	go a.readLoop(conn)

	a.logger.Info("connected to relay", "address", address, "domain", domain)
	if l != nil {
		l.Connected()
	}
	return nil
}

// Login authenticates the open socket.
func (a *Adapter) Login(ctx context.Context, username, password string) error {
	return a.authenticate(ctx, username, password, false)
}

func (a *Adapter) authenticate(ctx context.Context, username, password string, resumed bool) error {
	reply := make(chan frame, 1)

	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return errors.ErrNotConnected
	}
	a.authReply = reply
	a.mu.Unlock()

	err := a.write(conn, frame{
		Type:     frameAuth,
		Username: username,
		Password: password,
		Resource: uuid.NewString(),
	})
	if err != nil {
		return errors.NewConnectionError("wstransport.Login",
			errors.WrapTransient(err, "wstransport", "Login", "send auth frame"))
	}

	timer := time.NewTimer(a.loginTimeout)
	defer timer.Stop()

	var answer frame
	select {
	case answer = <-reply:
	case <-ctx.Done():
		return errors.NewConnectionError("wstransport.Login",
			errors.WrapTransient(ctx.Err(), "wstransport", "Login", "wait for auth answer"))
	case <-timer.C:
		return errors.NewConnectionError("wstransport.Login",
			errors.WrapTransient(errors.ErrConnectionTimeout, "wstransport", "Login", "wait for auth answer"))
	}

	if answer.Type != frameAuthOK {
		return errors.NewConnectionError("wstransport.Login",
			fmt.Errorf("login rejected for %s: %s", username, answer.Error))
	}

	a.mu.Lock()
	a.identity = answer.ID
	if a.identity == "" {
		a.identity = message.SanitizeID(username, a.domain)
	}
	a.username = username
	a.password = password
	a.authenticated = true
	l := a.listener
	a.mu.Unlock()

	a.logger.Info("authenticated", "identity", answer.ID, "resumed", resumed)
	if l != nil {
		l.Authenticated(resumed)
	}
	return nil
}

// Disconnect closes the socket and stops any reconnection in progress.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.authenticated = false
	a.closing = true
	if a.done != nil {
		select {
		case <-a.done:
		default:
			close(a.done)
		}
	}
	l := a.listener
	a.mu.Unlock()

	if conn == nil {
		return nil
	}

	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	a.writeMu.Unlock()
	err := conn.Close()

	if l != nil {
		l.ConnectionClosed()
	}
	if err != nil {
		return errors.WrapTransient(err, "wstransport", "Disconnect", "close socket")
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil
}

func (a *Adapter) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil && a.authenticated
}

func (a *Adapter) Identity() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

func (a *Adapter) Domain() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.domain
}

// ChatManager is available once authenticated.
func (a *Adapter) ChatManager() transport.ChatManager {
	if !a.IsAuthenticated() {
		return nil
	}
	return chatManager{a}
}

func (a *Adapter) SetListener(l transport.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

func (a *Adapter) write(conn *websocket.Conn, f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			a.connectionLost(conn, err)
			return
		}

		switch f.Type {
		case frameAuthOK, frameAuthError:
			a.mu.Lock()
			reply := a.authReply
			a.authReply = nil
			a.mu.Unlock()
			if reply != nil {
				reply <- f
			}
		case frameMessage:
			a.deliver(f)
		default:
			a.logger.Debug("ignoring relay frame", "type", f.Type)
		}
	}
}

func (a *Adapter) deliver(f frame) {
	a.mu.RLock()
	h := a.incoming
	a.mu.RUnlock()
	if h == nil || f.From == "" {
		return
	}
	msg := transport.Message{From: f.From, To: f.To, Subject: f.Subject, Body: f.Body}
	h(&chat{adapter: a, peer: message.BareID(f.From)}, msg)
}

func (a *Adapter) connectionLost(conn *websocket.Conn, err error) {
	a.mu.Lock()
	if a.conn != conn || a.closing {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.authenticated = false
	l := a.listener
	reconnect := a.reconnectEnabled
	done := a.done
	a.mu.Unlock()

	_ = conn.Close()
	a.logger.Warn("relay connection lost", "error", err)
	if l != nil {
		l.ConnectionClosedOnError(errors.NewConnectionError("wstransport.read", err))
	}
	if reconnect {
		go a.reconnectLoop(done, err)
	}
}

func (a *Adapter) reconnectLoop(done <-chan struct{}, lastErr error) {
	backoff, err := retry.NewBackoff(a.reconnect)
	if err != nil {
		return
	}

	for {
		delay, ok := backoff.Next()
		if !ok {
			a.logger.Error("giving up reconnecting", "attempts", backoff.Attempts(), "error", lastErr)
			if l := a.currentListener(); l != nil {
				l.ReconnectionFailed(lastErr)
			}
			return
		}
		if l := a.currentListener(); l != nil {
			l.ReconnectingIn(delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		a.mu.RLock()
		address := a.address
		a.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), a.loginTimeout)
		conn, _, err := a.dialer.DialContext(ctx, address, nil)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		a.mu.Lock()
		if a.closing {
			a.mu.Unlock()
			_ = conn.Close()
			return
		}
		a.conn = conn
		username, password := a.username, a.password
		l := a.listener
		a.mu.Unlock()

		go a.readLoop(conn)
		a.logger.Info("reconnected to relay", "address", address, "attempts", backoff.Attempts())
		if l != nil {
			l.Connected()
		}

		if username == "" {
			return
		}
		ctx, cancel = context.WithTimeout(context.Background(), a.loginTimeout)
		err = a.authenticate(ctx, username, password, true)
		cancel()
		if err != nil && l != nil {
			l.AuthenticationFailed(err)
		}
		return
	}
}

func (a *Adapter) currentListener() transport.Listener {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listener
}

type chatManager struct {
	a *Adapter
}

func (m chatManager) ChatWith(peer string) (transport.Chat, error) {
	if peer == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty peer", errors.ErrInvalidData),
			"wstransport", "ChatWith", "create chat")
	}
	return &chat{adapter: m.a, peer: peer}, nil
}

func (m chatManager) SetIncomingHandler(h transport.IncomingHandler) {
	m.a.mu.Lock()
	defer m.a.mu.Unlock()
	m.a.incoming = h
}

func (m chatManager) SetOutgoingHandler(h transport.OutgoingHandler) {
	m.a.mu.Lock()
	defer m.a.mu.Unlock()
	m.a.outgoing = h
}

type chat struct {
	adapter *Adapter
	peer    string
}

func (c *chat) Peer() string { return c.peer }

func (c *chat) Send(_ context.Context, msg transport.Message) error {
	a := c.adapter
	a.mu.RLock()
	conn := a.conn
	from := a.identity
	out := a.outgoing
	a.mu.RUnlock()

	if conn == nil {
		return errors.ErrNotConnected
	}
	if msg.From == "" {
		msg.From = from
	}
	msg.To = c.peer

	err := a.write(conn, frame{
		Type:    frameMessage,
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return errors.WrapTransient(err, "wstransport", "Send", "write message to "+c.peer)
	}
	if out != nil {
		out(c, msg)
	}
	return nil
}
