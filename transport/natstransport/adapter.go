// Package natstransport implements transport.Adapter over NATS.
//
// Each user receives chat messages on "<domain>.chat.<local>". The sender,
// recipient and subject marker travel as message headers. Login is a request
// to "<domain>.auth.login" answered by ServeLogin or any compatible service.
// Dropped links are retried by nats.go itself; the adapter reports the
// attempts to its listener.
package natstransport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/pkg/retry"
	"github.com/c360/chatsession/transport"
)

// Adapter connects a session to a NATS server.
type Adapter struct {
	maxReconnects int
	reconnect     retry.Config
	timeout       time.Duration
	clientName    string
	tlsConfig     *tls.Config
	logger        *slog.Logger

	mu            sync.RWMutex
	conn          *nats.Conn
	sub           *nats.Subscription
	listener      transport.Listener
	domain        string
	identity      string
	authenticated bool
	incoming      transport.IncomingHandler
	outgoing      transport.OutgoingHandler
	backoff       *retry.Backoff

	closing atomic.Bool
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates an Adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		maxReconnects: -1,
		reconnect:     retry.Reconnect(),
		timeout:       5 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, errors.WrapInvalid(err, "natstransport", "New", "apply option")
		}
	}
	backoff, err := retry.NewBackoff(a.reconnect)
	if err != nil {
		return nil, errors.WrapInvalid(err, "natstransport", "New", "build reconnect backoff")
	}
	a.backoff = backoff
	return a, nil
}

func (a *Adapter) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(a.maxReconnects),
		nats.CustomReconnectDelay(a.reconnectDelay),
		nats.Timeout(a.timeout),
		nats.DisconnectErrHandler(a.handleDisconnect),
		nats.ReconnectHandler(a.handleReconnect),
		nats.ClosedHandler(a.handleClosed),
		nats.ErrorHandler(a.handleError),
	}
	if a.clientName != "" {
		opts = append(opts, nats.Name(a.clientName))
	}
	if a.tlsConfig != nil {
		opts = append(opts, nats.Secure(a.tlsConfig))
	}
	return opts
}

// Connect dials the NATS server at address.
func (a *Adapter) Connect(ctx context.Context, address, domain string) error {
	if a.IsConnected() {
		return nil
	}
	a.closing.Store(false)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(address, a.connectionOptions()...)
		done <- result{conn, err}
	}()

	var conn *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return errors.NewConnectionError("natstransport.Connect",
				errors.WrapTransient(r.err, "natstransport", "Connect", "dial "+address))
		}
		conn = r.conn
	case <-ctx.Done():
		// close the connection if the dial completes after we gave up
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.NewConnectionError("natstransport.Connect",
			errors.WrapTransient(ctx.Err(), "natstransport", "Connect", "dial cancelled"))
	}

	a.mu.Lock()
	a.conn = conn
	a.domain = domain
	a.backoff.Reset()
	l := a.listener
	a.mu.Unlock()

	a.logger.Info("connected to NATS", "address", address, "domain", domain)
	if l != nil {
		l.Connected()
	}
	return nil
}

// Login authenticates against the domain's login responder and subscribes to
// this user's chat subject.
func (a *Adapter) Login(ctx context.Context, username, password string) error {
	a.mu.RLock()
	conn := a.conn
	domain := a.domain
	a.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNotConnected
	}

	req, err := json.Marshal(loginRequest{
		Username: username,
		Password: password,
		Resource: uuid.NewString(),
	})
	if err != nil {
		return errors.WrapInvalid(err, "natstransport", "Login", "encode login request")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := conn.RequestWithContext(ctx, LoginSubject(domain), req)
	if err != nil {
		return errors.NewConnectionError("natstransport.Login",
			errors.WrapTransient(err, "natstransport", "Login", "request login"))
	}

	var resp loginResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return errors.NewConnectionError("natstransport.Login",
			errors.WrapInvalid(err, "natstransport", "Login", "decode login response"))
	}
	if !resp.OK {
		return errors.NewConnectionError("natstransport.Login",
			fmt.Errorf("login rejected for %s: %s", username, resp.Error))
	}

	identity := resp.ID
	if identity == "" {
		identity = message.SanitizeID(username, domain)
	}

	sub, err := conn.Subscribe(ChatSubject(identity, domain), a.handleMessage)
	if err != nil {
		return errors.NewConnectionError("natstransport.Login",
			errors.WrapTransient(err, "natstransport", "Login", "subscribe to chat subject"))
	}

	a.mu.Lock()
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
	a.sub = sub
	a.identity = identity
	a.authenticated = true
	l := a.listener
	a.mu.Unlock()

	a.logger.Info("authenticated", "identity", identity)
	if l != nil {
		l.Authenticated(false)
	}
	return nil
}

// Disconnect closes the NATS connection.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	sub := a.sub
	a.conn = nil
	a.sub = nil
	a.authenticated = false
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	a.closing.Store(true)
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	conn.Close()
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil && a.conn.IsConnected()
}

func (a *Adapter) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authenticated && a.conn != nil && a.conn.IsConnected()
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
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.authenticated {
		return nil
	}
	return chatManager{a}
}

func (a *Adapter) SetListener(l transport.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

func (a *Adapter) currentListener() transport.Listener {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listener
}

func (a *Adapter) reconnectDelay(attempts int) time.Duration {
	a.mu.Lock()
	delay, ok := a.backoff.Next()
	a.mu.Unlock()
	if !ok {
		delay = a.reconnect.MaxDelay
	}
	if l := a.currentListener(); l != nil {
		l.ReconnectingIn(delay)
	}
	a.logger.Debug("reconnecting", "attempt", attempts, "delay", delay)
	return delay
}

func (a *Adapter) handleDisconnect(_ *nats.Conn, err error) {
	if a.closing.Load() {
		return
	}
	if err == nil {
		err = errors.ErrConnectionLost
	}
	a.logger.Warn("NATS connection lost", "error", err)
	if l := a.currentListener(); l != nil {
		l.ConnectionClosedOnError(err)
	}
}

// handleReconnect runs after nats.go restored the link. Subscriptions are
// restored by nats.go, so an authenticated session resumes as it was.
func (a *Adapter) handleReconnect(_ *nats.Conn) {
	a.mu.Lock()
	a.backoff.Reset()
	resumed := a.authenticated
	l := a.listener
	a.mu.Unlock()

	a.logger.Info("NATS connection restored", "resumed", resumed)
	if l == nil {
		return
	}
	l.Connected()
	if resumed {
		l.Authenticated(true)
	}
}

func (a *Adapter) handleClosed(conn *nats.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
		a.sub = nil
		a.authenticated = false
	}
	l := a.listener
	a.mu.Unlock()

	if l == nil {
		return
	}
	if err := conn.LastError(); err != nil && !a.closing.Load() {
		l.ReconnectionFailed(err)
		return
	}
	l.ConnectionClosed()
}

func (a *Adapter) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	a.logger.Error("NATS error", "error", err)
}

func (a *Adapter) handleMessage(msg *nats.Msg) {
	a.mu.RLock()
	h := a.incoming
	a.mu.RUnlock()
	if h == nil {
		return
	}

	m := transport.Message{Body: msg.Data}
	if msg.Header != nil {
		m.From = msg.Header.Get(HeaderFrom)
		m.To = msg.Header.Get(HeaderTo)
		m.Subject = msg.Header.Get(HeaderSubject)
	}
	if m.From == "" {
		a.logger.Debug("dropping chat message without sender", "subject", msg.Subject)
		return
	}
	h(&chat{adapter: a, peer: message.BareID(m.From)}, m)
}

type chatManager struct {
	a *Adapter
}

func (m chatManager) ChatWith(peer string) (transport.Chat, error) {
	if peer == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty peer", errors.ErrInvalidData),
			"natstransport", "ChatWith", "create chat")
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

// Send publishes msg on the peer's chat subject.
func (c *chat) Send(_ context.Context, msg transport.Message) error {
	a := c.adapter
	a.mu.RLock()
	conn := a.conn
	from := a.identity
	domain := a.domain
	out := a.outgoing
	a.mu.RUnlock()

	if conn == nil {
		return errors.ErrNotConnected
	}
	if msg.From == "" {
		msg.From = from
	}
	msg.To = c.peer

	natsMsg := nats.NewMsg(ChatSubject(c.peer, domain))
	natsMsg.Header.Set(HeaderFrom, msg.From)
	natsMsg.Header.Set(HeaderTo, msg.To)
	if msg.Subject != "" {
		natsMsg.Header.Set(HeaderSubject, msg.Subject)
	}
	natsMsg.Data = msg.Body

	if err := conn.PublishMsg(natsMsg); err != nil {
		return errors.WrapTransient(err, "natstransport", "Send", "publish to "+c.peer)
	}
	if out != nil {
		out(c, msg)
	}
	return nil
}
