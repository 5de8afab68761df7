// Package connection manages the lifecycle of a chat transport connection.
//
// A Manager wraps a transport.Adapter with a state machine:
//
//	disconnected -> connecting -> connected -> authenticating -> authenticated
//
// Any state may fall into error, and every loss of the connection ends in
// disconnected. Connect and Login return immediately and run on a single
// background worker; results arrive through transport.Listener callbacks.
//
// Chats are created per peer once the connection is authenticated. Envelopes
// are encoded with a message.Codec and sent with SendEnvelope; decoded
// incoming envelopes are fanned out to handlers added with AddIncomingHandler.
package connection
