package transport

import (
	"context"
	"time"
)

// EnvelopeSubject marks chat messages whose body is a serialized envelope.
// Messages with any other subject are plain chat text.
const EnvelopeSubject = "session.envelope"

// Message is a single chat message as carried by the transport.
type Message struct {
	From    string
	To      string
	Subject string
	Body    []byte
}

// IsEnvelope reports whether the message carries an envelope.
func (m Message) IsEnvelope() bool {
	return m.Subject == EnvelopeSubject
}

// Chat is a conversation with one peer.
type Chat interface {
	Peer() string
	Send(ctx context.Context, msg Message) error
}

// IncomingHandler receives every chat message addressed to this connection.
type IncomingHandler func(chat Chat, msg Message)

// OutgoingHandler observes every chat message sent on this connection.
type OutgoingHandler func(chat Chat, msg Message)

// ChatManager creates chats and delivers their traffic.
type ChatManager interface {
	ChatWith(peer string) (Chat, error)
	SetIncomingHandler(h IncomingHandler)
	SetOutgoingHandler(h OutgoingHandler)
}

// Listener receives connection lifecycle callbacks. Adapters call Connected
// and Authenticated themselves, including after they reconnect on their own.
// Failures of an explicit Connect or Login are returned to the caller instead
// of being reported through ConnectFailed or AuthenticationFailed.
type Listener interface {
	Connected()
	Authenticated(resumed bool)
	ConnectionClosed()
	ConnectionClosedOnError(err error)
	ConnectFailed(err error)
	AuthenticationFailed(err error)
	ReconnectingIn(delay time.Duration)
	ReconnectionFailed(err error)
}

// Adapter is a chat protocol implementation. Reconnection after a dropped
// connection is the adapter's own business.
type Adapter interface {
	// Connect opens the connection and blocks until it is established.
	Connect(ctx context.Context, address, domain string) error

	// Login authenticates the open connection.
	Login(ctx context.Context, username, password string) error

	// Disconnect closes the connection. It is safe to call when not connected.
	Disconnect() error

	IsConnected() bool
	IsAuthenticated() bool

	// Identity is the full identity of this connection once authenticated.
	Identity() string

	// Domain is the domain passed to Connect.
	Domain() string

	// ChatManager returns nil until the connection can create chats.
	ChatManager() ChatManager

	SetListener(l Listener)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	OnConnected               func()
	OnAuthenticated           func(resumed bool)
	OnConnectionClosed        func()
	OnConnectionClosedOnError func(err error)
	OnConnectFailed           func(err error)
	OnAuthenticationFailed    func(err error)
	OnReconnectingIn          func(delay time.Duration)
	OnReconnectionFailed      func(err error)
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) Connected() {
	if l.OnConnected != nil {
		l.OnConnected()
	}
}

func (l ListenerFuncs) Authenticated(resumed bool) {
	if l.OnAuthenticated != nil {
		l.OnAuthenticated(resumed)
	}
}

func (l ListenerFuncs) ConnectionClosed() {
	if l.OnConnectionClosed != nil {
		l.OnConnectionClosed()
	}
}

func (l ListenerFuncs) ConnectionClosedOnError(err error) {
	if l.OnConnectionClosedOnError != nil {
		l.OnConnectionClosedOnError(err)
	}
}

func (l ListenerFuncs) ConnectFailed(err error) {
	if l.OnConnectFailed != nil {
		l.OnConnectFailed(err)
	}
}

func (l ListenerFuncs) AuthenticationFailed(err error) {
	if l.OnAuthenticationFailed != nil {
		l.OnAuthenticationFailed(err)
	}
}

func (l ListenerFuncs) ReconnectingIn(delay time.Duration) {
	if l.OnReconnectingIn != nil {
		l.OnReconnectingIn(delay)
	}
}

func (l ListenerFuncs) ReconnectionFailed(err error) {
	if l.OnReconnectionFailed != nil {
		l.OnReconnectionFailed(err)
	}
}
