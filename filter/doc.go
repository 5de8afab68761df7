// Package filter routes inbound envelopes to feature handlers.
//
// A Filter matches on any combination of sender, envelope type, command,
// required fields and a key/value pair. A Chain holds filters in registration
// order and, on Dispatch, runs the handler of every filter that matches: two
// filters matching the same envelope both fire.
//
// Filters are usually built before the peer's identity is known. BindSender
// fills in the sender of every filter that was left without one.
package filter
