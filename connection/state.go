package connection

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the connection lifecycle state.
type State int

// Connection states, in the order a successful login walks through them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateError
)

var stateNames = []string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateError:          "error",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return StateError
}

// State machine events.
const (
	eventConnect       = "connect"
	eventReconnect     = "reconnect"
	eventConnected     = "connected"
	eventLogin         = "login"
	eventAuthenticated = "authenticated"
	eventAuthFailed    = "auth_failed"
	eventFail          = "fail"
	eventReset         = "reset"
)

func newStateMachine(onEnter fsm.Callback) *fsm.FSM {
	disconnected := StateDisconnected.String()
	connecting := StateConnecting.String()
	connected := StateConnected.String()
	authenticating := StateAuthenticating.String()
	authenticated := StateAuthenticated.String()
	failed := StateError.String()

	return fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{disconnected, failed}, Dst: connecting},
			{Name: eventReconnect, Src: []string{disconnected, failed, connecting}, Dst: connecting},
			{Name: eventConnected, Src: []string{connecting, disconnected, failed}, Dst: connected},
			{Name: eventLogin, Src: []string{connected}, Dst: authenticating},
			{Name: eventAuthenticated, Src: []string{connected, authenticating}, Dst: authenticated},
			{Name: eventAuthFailed, Src: []string{authenticating}, Dst: connected},
			{Name: eventFail, Src: []string{disconnected, connecting, connected, authenticating, authenticated}, Dst: failed},
			{Name: eventReset, Src: []string{disconnected, connecting, connected, authenticating, authenticated, failed}, Dst: disconnected},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				onEnter(ctx, e)
			},
		},
	)
}
