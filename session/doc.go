// Package session implements the conversation between a client and one peer
// service on top of a connection.Manager.
//
// A Session subscribes to its peer once the connection is authenticated,
// translates intents (commands, pings, status requests) into envelopes and
// routes what the peer sends back:
//
//   - NOTIFICATION with a ServiceEvent field is handled by the session; a
//     Stopping or Disconnecting event clears the health state and raises a
//     liveness error.
//   - SUBSCRIBE_RESPONSE runs the subscribe hook, which requests the status
//     by default.
//   - PING_RESPONSE only counts as proof of life.
//   - STATUS_RESPONSE updates the published status.
//   - ERROR raises a protocol error carrying the envelope.
//   - everything else goes through the filter chain, where every matching
//     filter runs.
//
// A Watchdog ticks every TickInterval. It raises a liveness error when the
// peer has been silent for longer than ResponseFactor * PingInterval and
// pings the peer when the conversation has been quiet for PingInterval.
// Errors are never fatal to the connection; reconnecting is the transport's
// business.
//
// Feature modules plug in through Module: they contribute filters, and may
// implement ReadyHook and TickHook.
package session
