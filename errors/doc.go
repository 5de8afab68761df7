// Package errors provides standardized error handling for chatsession components.
//
// # Overview
//
// Two complementary layers are provided. The first is a three-class
// classification taken from stream processing practice: Transient (may heal,
// typically via transport reconnection), Invalid (bad input or API misuse, do not
// retry) and Fatal (stop processing).
//
// The second is the session taxonomy:
//
//   - Connection errors: transport connect or login failures. Surfaced to
//     listeners and to the session's current error slot.
//   - Protocol errors: malformed command usage, an empty command string, or an
//     ERROR envelope reported by the peer (carried in Detail).
//   - Liveness errors: the watchdog found the peer silent, or the peer announced
//     it is stopping.
//
// # Usage
//
// Precondition violations are returned synchronously and wrap a sentinel:
//
//	if err := mgr.Connect(addr, domain, nil); errors.Is(err, errors.ErrAlreadyConnecting) {
//	    // retry after the in-flight attempt resolves
//	}
//
// Asynchronous failures arrive through listeners as *SessionError values:
//
//	session.OnError(func(err error) {
//	    if errors.IsLivenessError(err) {
//	        ...
//	    }
//	})
//
// Wrap third-party errors with component context:
//
//	return errors.WrapTransient(err, "Adapter", "Connect", "dial server")
package errors
