package connection

import (
	"time"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/transport"
)

// adapterEvents receives the adapter's callbacks, updates the manager and
// forwards them to the registered listeners.
type adapterEvents struct {
	m *Manager
}

var _ transport.Listener = (*adapterEvents)(nil)

func (a *adapterEvents) Connected() {
	m := a.m
	m.mu.Lock()
	m.resuming = !m.connectInFlight && m.wasAuthenticated
	m.connectInFlight = false
	m.fireLocked(eventConnected)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("Connected")
	for _, l := range listeners {
		l.Connected()
	}
}

func (a *adapterEvents) Authenticated(resumed bool) {
	m := a.m
	m.mu.Lock()
	m.loginInFlight = false
	m.resuming = false
	m.wasAuthenticated = true
	m.fireLocked(eventAuthenticated)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.installChatHandlers()
	m.logger.Info("Authenticated", "identity", m.adapter.Identity(), "resumed", resumed)
	for _, l := range listeners {
		l.Authenticated(resumed)
	}
}

func (a *adapterEvents) ConnectionClosed() {
	m := a.m
	m.mu.Lock()
	if m.disconnecting {
		m.mu.Unlock()
		return
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("Connection closed")
	for _, l := range listeners {
		l.ConnectionClosed()
	}
	a.reset()
}

func (a *adapterEvents) ConnectionClosedOnError(err error) {
	m := a.m
	m.mu.Lock()
	if m.disconnecting {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.fireLocked(eventFail)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Connection closed on error", "error", err)
	for _, l := range listeners {
		l.ConnectionClosedOnError(err)
	}
	a.reset()
}

func (a *adapterEvents) ConnectFailed(err error) {
	m := a.m
	m.mu.Lock()
	m.lastErr = err
	m.fireLocked(eventFail)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Connect failed", "error", err)
	for _, l := range listeners {
		l.ConnectFailed(err)
	}
	a.reset()
}

func (a *adapterEvents) AuthenticationFailed(err error) {
	m := a.m
	m.mu.Lock()
	m.loginInFlight = false
	m.resuming = false
	m.lastErr = err
	m.fireLocked(eventAuthFailed)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Authentication failed", "error", err)
	for _, l := range listeners {
		l.AuthenticationFailed(err)
	}
}

func (a *adapterEvents) ReconnectingIn(delay time.Duration) {
	m := a.m
	m.mu.Lock()
	m.fireLocked(eventReconnect)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info("Reconnecting", "delay", delay)
	for _, l := range listeners {
		l.ReconnectingIn(delay)
	}
}

func (a *adapterEvents) ReconnectionFailed(err error) {
	m := a.m
	m.mu.Lock()
	m.lastErr = errors.NewConnectionError("reconnect", err)
	m.fireLocked(eventFail)
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Warn("Reconnection failed", "error", err)
	for _, l := range listeners {
		l.ReconnectionFailed(err)
	}
	a.reset()
}

// reset keeps listeners and handlers so that the owner hears about the
// adapter's own reconnection.
func (a *adapterEvents) reset() {
	a.m.mu.Lock()
	a.m.resetLocked(false)
	a.m.mu.Unlock()
}
