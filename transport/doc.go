// Package transport defines the chat transport a session runs over.
//
// An Adapter connects to a chat server, authenticates, and hands out Chats,
// one per peer. Lifecycle changes are reported to a single Listener. The
// adapter owns reconnection: when the link drops it reports
// ConnectionClosedOnError, retries on its own schedule (ReconnectingIn), and
// reports Connected and Authenticated(true) once it is back.
//
// Envelopes travel as ordinary chat messages whose Subject is EnvelopeSubject.
//
// Implementations:
//
//   - natstransport: chat over NATS subjects
//   - wstransport: chat over a WebSocket relay
//   - transporttest: an in-memory adapter for tests
package transport
