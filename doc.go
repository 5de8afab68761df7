// Package chatsession keeps a long-lived session between a client and a
// service reachable over a chat transport, where every exchange is a typed
// envelope carried in a chat message.
//
// # Layers
//
//	┌─────────────────────────────────────┐
//	│        Feature modules              │  alarms: list, alert,
//	│   (commands + response filters)     │  test, silence
//	└─────────────────────────────────────┘
//	           ↓ plug into
//	┌─────────────────────────────────────┐
//	│            Session                  │  subscribe, ping watchdog,
//	│ (dispatch, publisher, sinks)        │  status, command dispatch
//	└─────────────────────────────────────┘
//	           ↓ sends and receives through
//	┌─────────────────────────────────────┐
//	│      Connection manager             │  connect, login, resume,
//	│      (looplab/fsm states)           │  chat registry, codec
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│         Transport adapter           │  NATS subjects or a
//	│   (natstransport, wstransport)      │  WebSocket relay
//	└─────────────────────────────────────┘
//
// Values the session and its modules publish (status, help, alarms,
// alerted alarm and so on) are kept by the session's Publisher and mirrored
// to the configured outputs: Redis, a JSON lines file or a webhook.
//
// # Packages
//
//   - message: envelopes, envelope types, JSON and protobuf codecs
//   - filter: envelope filters and the filter chain
//   - transport: adapter interfaces; natstransport, wstransport and
//     transporttest implement them
//   - connection: connection state machine and chat registry
//   - session: session lifecycle, watchdog, publisher and modules
//   - feature/alarms: alarm monitoring module
//   - output/redis, output/file, output/httppost: publisher sinks
//   - config: layered YAML/JSON configuration with environment overrides
//   - metric, health: Prometheus metrics and health reporting
//   - errors: classified errors shared by all packages
//   - pkg/retry, pkg/worker, pkg/timestamp, pkg/tlsutil: utilities
//
// # Binary
//
//	go build ./cmd/chatsession
//	./chatsession --config /etc/chatsession/alarms.yaml
//
// A minimal configuration:
//
//	transport:
//	  kind: nats
//	  address: nats://localhost:4222
//	  domain: example.com
//	credentials:
//	  username: station
//	  password: secret
//	session:
//	  peer: alarms
//	  features:
//	    alarms:
//	      refresh_interval: 30s
package chatsession
