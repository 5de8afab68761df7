package message

import (
	"strconv"
	"strings"
)

// Reserved field names used by built-in routing and standard filters.
const (
	FieldCommand      = "Command"
	FieldArguments    = "Arguments"
	FieldServiceEvent = "ServiceEvent"
	FieldMessage      = "Message"
	FieldHelp         = "Help"
	FieldVersion      = "Version"
	FieldAbout        = "About"
)

// Built-in command names answered by every peer.
const (
	CommandHelp    = "help"
	CommandVersion = "version"
	CommandAbout   = "about"
)

// ServiceEvent is the lifecycle event a peer announces in a NOTIFICATION.
type ServiceEvent int

// Service events. Values are fixed by the wire protocol.
const (
	ServiceEventNone          ServiceEvent = 0
	ServiceEventDisconnected  ServiceEvent = 10000
	ServiceEventConnected     ServiceEvent = 10001
	ServiceEventDisconnecting ServiceEvent = 10002
	ServiceEventStopping      ServiceEvent = 10003
	ServiceEventStatusUpdate  ServiceEvent = 10004
)

var serviceEventNames = map[ServiceEvent]string{
	ServiceEventNone:          "None",
	ServiceEventDisconnected:  "Disconnected",
	ServiceEventConnected:     "Connected",
	ServiceEventDisconnecting: "Disconnecting",
	ServiceEventStopping:      "Stopping",
	ServiceEventStatusUpdate:  "StatusUpdate",
}

func (se ServiceEvent) String() string {
	if name, ok := serviceEventNames[se]; ok {
		return name
	}
	return "ServiceEvent(" + strconv.Itoa(int(se)) + ")"
}

// GoingAway reports whether the peer is announcing it will stop answering.
func (se ServiceEvent) GoingAway() bool {
	return se == ServiceEventStopping || se == ServiceEventDisconnecting
}

// ServiceEventOf returns the ServiceEvent carried by env, accepting the numeric
// value (as number or string) or the event name. ok is false when the field is
// absent or unrecognised.
func ServiceEventOf(env *Envelope) (ServiceEvent, bool) {
	raw, present := env.Get(FieldServiceEvent)
	if !present || raw == nil {
		return ServiceEventNone, false
	}

	if n, ok := toInt(raw); ok {
		se := ServiceEvent(n)
		_, known := serviceEventNames[se]
		return se, known
	}

	if s, ok := raw.(string); ok {
		for se, name := range serviceEventNames {
			if strings.EqualFold(name, strings.TrimSpace(s)) {
				return se, true
			}
		}
	}
	return ServiceEventNone, false
}
