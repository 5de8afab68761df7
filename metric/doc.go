// Package metric provides Prometheus metrics for chat sessions and an HTTP
// server that exposes them together with the aggregated health of all sessions.
//
// NewMetricsRegistry registers the core session metrics (connection state,
// envelope traffic, session errors, peer responsiveness) plus the Go runtime
// and process collectors. Supporting infrastructure such as worker pools
// registers its own collectors through the MetricsRegistrar interface, keyed
// by owner and metric name so duplicates are rejected.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, monitor)
//	go func() { _ = server.Start() }()
//
//	registry.CoreMetrics().RecordEnvelopeSent("pilot@example.com", "COMMAND")
package metric
