// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/message"
	"github.com/c360/chatsession/transport"
)

// Adapter is a scriptable transport.Adapter. Connect and Login succeed unless
// ConnectErr or LoginErr are set. Sent messages are recorded.
type Adapter struct {
	mu sync.Mutex

	// ConnectErr and LoginErr make the next Connect or Login fail.
	ConnectErr error
	LoginErr   error

	// ConnectGate, when set, blocks Connect until it is closed or the
	// context ends.
	ConnectGate chan struct{}

	// NoChatManager hides the chat capability after login.
	NoChatManager bool

	// SendErr makes every Chat.Send fail.
	SendErr error

	listener      transport.Listener
	connected     bool
	authenticated bool
	domain        string
	identity      string
	address       string

	incoming transport.IncomingHandler
	outgoing transport.OutgoingHandler

	sent         []transport.Message
	connectCalls int
	loginCalls   int
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates a disconnected adapter.
func New() *Adapter {
	return &Adapter{}
}

// Connect records the address and fires Connected.
func (a *Adapter) Connect(ctx context.Context, address, domain string) error {
	a.mu.Lock()
	a.connectCalls++
	gate := a.ConnectGate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "transporttest", "Connect", "wait for gate")
		}
	}

	a.mu.Lock()
	if err := a.ConnectErr; err != nil {
		a.mu.Unlock()
		return err
	}
	a.connected = true
	a.address = address
	a.domain = domain
	l := a.listener
	a.mu.Unlock()

	if l != nil {
		l.Connected()
	}
	return nil
}

// Login sets the identity to user@domain/test and fires Authenticated.
func (a *Adapter) Login(_ context.Context, username, _ string) error {
	a.mu.Lock()
	a.loginCalls++
	if !a.connected {
		a.mu.Unlock()
		return errors.ErrNotConnected
	}
	if err := a.LoginErr; err != nil {
		a.mu.Unlock()
		return err
	}
	a.authenticated = true
	a.identity = message.SanitizeID(username, a.domain) + "/test"
	l := a.listener
	a.mu.Unlock()

	if l != nil {
		l.Authenticated(false)
	}
	return nil
}

// Disconnect closes the fake connection and fires ConnectionClosed when it was open.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.authenticated = false
	l := a.listener
	a.mu.Unlock()

	if wasConnected && l != nil {
		l.ConnectionClosed()
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

func (a *Adapter) Identity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

func (a *Adapter) Domain() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.domain
}

// Address returns the address of the last Connect.
func (a *Adapter) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// ChatManager returns the adapter itself once authenticated.
func (a *Adapter) ChatManager() transport.ChatManager {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated || a.NoChatManager {
		return nil
	}
	return chatManager{a}
}

func (a *Adapter) SetListener(l transport.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

// ConnectCalls returns how many times Connect was called.
func (a *Adapter) ConnectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls
}

// LoginCalls returns how many times Login was called.
func (a *Adapter) LoginCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginCalls
}

// Sent returns a copy of every message sent so far.
func (a *Adapter) Sent() []transport.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]transport.Message, len(a.sent))
	copy(out, a.sent)
	return out
}

// SentEnvelopes decodes every sent envelope message with codec.
func (a *Adapter) SentEnvelopes(codec message.Codec) ([]*message.Envelope, error) {
	var out []*message.Envelope
	for _, msg := range a.Sent() {
		if !msg.IsEnvelope() {
			continue
		}
		env, err := codec.Decode(msg.Body)
		if err != nil {
			return nil, fmt.Errorf("decode sent message: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

// ClearSent forgets the recorded messages.
func (a *Adapter) ClearSent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = nil
}

// Deliver hands msg to the incoming handler as if it arrived from msg.From.
func (a *Adapter) Deliver(msg transport.Message) {
	a.mu.Lock()
	h := a.incoming
	if msg.To == "" {
		msg.To = a.identity
	}
	a.mu.Unlock()

	if h != nil {
		h(&chat{adapter: a, peer: message.BareID(msg.From)}, msg)
	}
}

// DeliverEnvelope encodes env with codec and delivers it from env.Sender.
func (a *Adapter) DeliverEnvelope(codec message.Codec, env *message.Envelope) error {
	body, err := codec.Encode(env)
	if err != nil {
		return err
	}
	a.Deliver(transport.Message{
		From:    env.Sender,
		Subject: transport.EnvelopeSubject,
		Body:    body,
	})
	return nil
}

// DropConnection simulates a lost link and fires ConnectionClosedOnError.
func (a *Adapter) DropConnection(err error) {
	a.mu.Lock()
	a.connected = false
	a.authenticated = false
	l := a.listener
	a.mu.Unlock()

	if l != nil {
		l.ConnectionClosedOnError(err)
	}
}

// Reconnect simulates the adapter's own reconnection: Connected, then
// Authenticated(true) when an identity was established before.
func (a *Adapter) Reconnect() {
	a.mu.Lock()
	a.connected = true
	relogin := a.identity != ""
	a.authenticated = relogin
	l := a.listener
	a.mu.Unlock()

	if l == nil {
		return
	}
	l.Connected()
	if relogin {
		l.Authenticated(true)
	}
}

// Listener returns the registered listener.
func (a *Adapter) Listener() transport.Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener
}

type chatManager struct {
	a *Adapter
}

func (m chatManager) ChatWith(peer string) (transport.Chat, error) {
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
	a.mu.Lock()
	if a.SendErr != nil {
		err := a.SendErr
		a.mu.Unlock()
		return err
	}
	if !a.connected {
		a.mu.Unlock()
		return errors.ErrNotConnected
	}
	msg.To = c.peer
	if msg.From == "" {
		msg.From = a.identity
	}
	a.sent = append(a.sent, msg)
	h := a.outgoing
	a.mu.Unlock()

	if h != nil {
		h(c, msg)
	}
	return nil
}
