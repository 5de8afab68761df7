// Package health tracks the health of chat sessions and their peers.
//
// A session reports a PeerHealth snapshot whenever its peer's responsiveness or
// authentication changes. FromPeer turns the snapshot into a Status:
//
//   - healthy: authenticated and the watchdog sees the peer responding
//   - degraded: authenticated but the peer is silent
//   - unhealthy: not authenticated
//
// Monitor keeps the latest Status per session and aggregates them for the
// process-level /health endpoint served by the metric package:
//
//	monitor := health.NewMonitor()
//	monitor.Update("pilot", health.FromPeer("pilot", snapshot))
//	overall := monitor.AggregateHealth("chatsession")
//
// Error messages copied into a Status are sanitized. URLs, paths, addresses and
// credentials are replaced with placeholders before they leave the process.
package health
