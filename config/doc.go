// Package config loads the chatsession configuration.
//
// A configuration starts from Default, is layered with one or more JSON or
// YAML files (later files win, absent fields keep their value), then
// overridden from CHATSESSION_* environment variables and validated.
//
//	loader := config.NewLoader()
//	loader.AddLayer("chatsession.yaml")
//	cfg, err := loader.Load()
//
// Durations are written as strings such as "2s" or "14d".
//
// # Environment overrides
//
//	CHATSESSION_TRANSPORT_KIND, _TRANSPORT_ADDRESS, _TRANSPORT_DOMAIN, _TRANSPORT_CODEC
//	CHATSESSION_USERNAME, _PASSWORD
//	CHATSESSION_SESSION_PEER, _SESSION_TICK_INTERVAL, _SESSION_PING_INTERVAL
//	CHATSESSION_LOG_LEVEL, _LOG_FORMAT, _METRICS_PORT, _METRICS_ENABLED
//	CHATSESSION_REDIS_ENABLED, _REDIS_ADDR, _REDIS_PASSWORD
//
// Validate applies the same watchdog timing rule as the session:
// ping_interval must be at least tick_interval plus latency_margin.
package config
